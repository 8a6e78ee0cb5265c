package linkpreview

import (
	"Crewline/internal/api/config"
	"Crewline/internal/model"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 2 * time.Second

// Fetcher 抓取网页并提取 Open Graph / title 元信息
type Fetcher struct {
	client *resty.Client
}

func NewFetcher(cfg config.PreviewConfig) *Fetcher {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	client := resty.New().SetTimeout(timeout)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Fetcher{client: client}
}

// Fetch 下载页面并提取预览。og:title 优先，回落到 <title>。
func (s *Fetcher) Fetch(ctx context.Context, url string) (*model.LinkPreview, error) {
	resp, err := s.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("preview fetch returned %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	if err != nil {
		return nil, err
	}

	preview := &model.LinkPreview{URL: url}

	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && title != "" {
		preview.Title = title
	} else {
		preview.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		preview.ImageURL = image
	}

	if preview.Title == "" {
		return nil, fmt.Errorf("page has no usable title")
	}
	return preview, nil
}
