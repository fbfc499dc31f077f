// Package normalize turns raw provider bodies into caller-facing results.
package normalize

import (
	"bytes"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

var extensionCategories = map[string]crawler.Category{
	".jpeg": crawler.CategoryImage,
	".jpg":  crawler.CategoryImage,
	".png":  crawler.CategoryImage,
	".gif":  crawler.CategoryImage,
	".bmp":  crawler.CategoryImage,
	".tiff": crawler.CategoryImage,
	".tif":  crawler.CategoryImage,
	".webp": crawler.CategoryImage,
	".svg":  crawler.CategoryImage,
	".pdf":  crawler.CategoryDocument,
	".doc":  crawler.CategoryDocument,
	".docx": crawler.CategoryDocument,
	".xls":  crawler.CategoryDocument,
	".xlsx": crawler.CategoryDocument,
	".ppt":  crawler.CategoryDocument,
	".pptx": crawler.CategoryDocument,
	".txt":  crawler.CategoryText,
	".csv":  crawler.CategoryText,
	".json": crawler.CategoryText,
	".xml":  crawler.CategoryText,
	".zip":  crawler.CategoryArchive,
	".rar":  crawler.CategoryArchive,
	".7z":   crawler.CategoryArchive,
	".tar":  crawler.CategoryArchive,
	".gz":   crawler.CategoryArchive,
	".html": crawler.CategoryHTML,
	".htm":  crawler.CategoryHTML,
}

var mediaTypeCategories = map[string]crawler.Category{
	"text/html":                     crawler.CategoryHTML,
	"application/xhtml+xml":         crawler.CategoryHTML,
	"application/pdf":               crawler.CategoryDocument,
	"application/msword":            crawler.CategoryDocument,
	"application/vnd.ms-excel":      crawler.CategoryDocument,
	"application/vnd.ms-powerpoint": crawler.CategoryDocument,
	"text/plain":                    crawler.CategoryText,
	"text/csv":                      crawler.CategoryText,
	"application/json":              crawler.CategoryText,
	"application/xml":               crawler.CategoryText,
	"text/xml":                      crawler.CategoryText,
	"application/zip":               crawler.CategoryArchive,
	"application/x-zip-compressed":  crawler.CategoryArchive,
	"application/vnd.rar":           crawler.CategoryArchive,
	"application/x-rar-compressed":  crawler.CategoryArchive,
	"application/x-7z-compressed":   crawler.CategoryArchive,
	"application/x-tar":             crawler.CategoryArchive,
	"application/gzip":              crawler.CategoryArchive,
	"application/x-gzip":            crawler.CategoryArchive,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   crawler.CategoryDocument,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         crawler.CategoryDocument,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": crawler.CategoryDocument,
}

const octetStream = "application/octet-stream"

// Normalizer classifies provider bodies and enforces the payload cap.
type Normalizer struct {
	maxBytes int
}

// New builds a Normalizer. A non-positive maxBytes uses crawler.MaxContentBytes.
func New(maxBytes int) *Normalizer {
	if maxBytes <= 0 || maxBytes > crawler.MaxContentBytes {
		maxBytes = crawler.MaxContentBytes
	}
	return &Normalizer{maxBytes: maxBytes}
}

// MaxBytes returns the enforced payload cap.
func (n *Normalizer) MaxBytes() int {
	return n.maxBytes
}

// Normalize classifies resp and fills the content fields of a FetchResult.
// Bodies larger than the cap yield a PayloadTooLarge error and are dropped.
func (n *Normalizer) Normalize(req crawler.FetchRequest, resp crawler.ProviderResponse) (crawler.FetchResult, error) {
	size := len(resp.Body)
	if size > n.maxBytes {
		return crawler.FetchResult{StatusCode: resp.StatusCode, SizeBytes: size}, crawler.NewError(
			crawler.ErrorKindPayloadTooLarge, "payload of %d bytes exceeds the %d byte limit", size, n.maxBytes)
	}

	contentType := resolveContentType(req, resp)
	category := Categorize(contentType, req.URL)

	result := crawler.FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Category:    category,
		SizeBytes:   size,
	}

	if isText(req, category, resp.Body) {
		result.Text = string(resp.Body)
	} else {
		result.Binary = append([]byte{}, resp.Body...)
	}
	if category == crawler.CategoryHTML && result.Text != "" {
		result.DocumentsFound = CountDocumentLinks(resp.Body, req.URL)
	}
	return result, nil
}

// Categorize maps a content type, falling back to the URL extension, onto a Category.
func Categorize(contentType, rawURL string) crawler.Category {
	mediaType := mediaTypeOf(contentType)
	if category, ok := mediaTypeCategories[mediaType]; ok {
		return category
	}
	if strings.HasPrefix(mediaType, "image/") {
		return crawler.CategoryImage
	}
	if category, ok := extensionCategories[extensionOf(rawURL)]; ok {
		return category
	}
	if strings.HasPrefix(mediaType, "text/") {
		return crawler.CategoryText
	}
	return crawler.CategoryUnknown
}

// CountDocumentLinks counts distinct links in an HTML body that point at documents or archives.
func CountDocumentLinks(body []byte, baseURL string) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	base, _ := url.Parse(baseURL)
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		switch extensionCategories[strings.ToLower(path.Ext(ref.Path))] {
		case crawler.CategoryDocument, crawler.CategoryArchive:
			ref.Fragment = ""
			seen[ref.String()] = struct{}{}
		}
	})
	return len(seen)
}

func resolveContentType(req crawler.FetchRequest, resp crawler.ProviderResponse) string {
	if req.ContentType != "" {
		return req.ContentType
	}
	var header string
	if resp.Headers != nil {
		header = resp.Headers.Get("Content-Type")
	}
	if header != "" && mediaTypeOf(header) != octetStream {
		return header
	}
	return guessContentType(req.URL, resp.Body)
}

func guessContentType(rawURL string, body []byte) string {
	if guessed := mime.TypeByExtension(extensionOf(rawURL)); guessed != "" {
		return guessed
	}
	if len(body) == 0 {
		return octetStream
	}
	return http.DetectContentType(body)
}

func isText(req crawler.FetchRequest, category crawler.Category, body []byte) bool {
	if req.DownloadFile {
		return false
	}
	switch category {
	case crawler.CategoryHTML, crawler.CategoryText:
		return utf8.Valid(body)
	default:
		return false
	}
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType
}

func extensionOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}
