package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tierfetch/internal/crawler"
)

type fetchOptions struct {
	req     crawler.FetchRequest
	tier    string
	force   string
	headers map[string]string
}

func newFetchCmd(root *rootOptions) *cobra.Command {
	opts := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one URL and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := opts.request(args[0])
			return withApp(cmd, root, func(app App) error {
				result := app.Fetcher().Dispatch(cmd.Context(), req)
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
				if !result.Success {
					return fmt.Errorf("fetch failed: %s: %s", result.ErrorKind, result.Message)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.req.RenderJS, "render-js", false, "render the page in a headless browser")
	f.IntVar(&opts.req.WaitMs, "wait", 0, "milliseconds to wait after load, 0-35000")
	f.StringVar(&opts.tier, "proxy-tier", "", "starting proxy tier: none, premium, stealth or custom")
	f.StringVar(&opts.force, "force-mode", "", "pin the request to exactly one tier")
	f.StringVar(&opts.req.CustomProxyURI, "custom-proxy", "", "proxy URI used by the custom tier")
	f.StringVar(&opts.req.CountryCode, "country", "", "two-letter proxy country for premium and stealth")
	f.IntVar(&opts.req.WindowWidth, "window-width", 0, "browser viewport width")
	f.IntVar(&opts.req.WindowHeight, "window-height", 0, "browser viewport height")
	f.BoolVar(&opts.req.DownloadFile, "download-file", false, "return the raw body as base64 binary")
	f.BoolVar(&opts.req.BlockAds, "block-ads", false, "block ads while rendering")
	f.BoolVar(&opts.req.BlockResources, "block-resources", false, "skip images and stylesheets while rendering")
	f.BoolVar(&opts.req.ForwardHeaders, "forward-headers", false, "forward --header values to the target")
	f.BoolVar(&opts.req.ForwardHeadersPure, "forward-headers-pure", false, "forward only --header values to the target")
	f.StringToStringVar(&opts.headers, "header", nil, "header to forward, as key=value")
	f.StringVar(&opts.req.ContentType, "content-type", "", "expected content type hint")
	return cmd
}

func (o *fetchOptions) request(url string) crawler.FetchRequest {
	req := o.req
	req.URL = url
	req.ProxyTier = crawler.Tier(o.tier)
	req.ForceMode = crawler.Tier(o.force)
	if len(o.headers) > 0 {
		req.Headers = make(map[string]string, len(o.headers))
		for k, v := range o.headers {
			req.Headers[k] = v
		}
	}
	return req
}
