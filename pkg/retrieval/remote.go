package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nstogner/solemate/pkg/domain"
)

// Remote queries a vector store service over HTTP. The service does the
// embedding and ranking; Remote applies the intent filter, threshold and
// result limit.
type Remote struct {
	baseURL    string
	httpClient *resty.Client
	opts       Options
}

var _ Searcher = (*Remote)(nil)

type queryRequest struct {
	Text string   `json:"text"`
	TopK int      `json:"top_k,omitempty"`
	Tags []string `json:"tags,omitempty"`
}

type queryResult struct {
	DocumentID  string   `json:"document_id"`
	Score       float64  `json:"score"`
	TextPreview string   `json:"text_preview"`
	Tags        []string `json:"tags,omitempty"`
}

type queryResponse struct {
	Query   string        `json:"query"`
	Count   int           `json:"count"`
	Results []queryResult `json:"results"`
}

func NewRemote(baseURL string, opts Options) (*Remote, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote retrieval needs a base URL")
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("User-Agent", "SoleMate-Retrieval/1.0").
		SetTimeout(10 * time.Second)

	return &Remote{
		baseURL:    baseURL,
		httpClient: httpClient,
		opts:       opts.withDefaults(),
	}, nil
}

func (r *Remote) Search(ctx context.Context, query string, intents []string) ([]domain.PolicyMatch, error) {
	var resp queryResponse
	httpResp, err := r.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(queryRequest{Text: query, TopK: r.opts.TopK, Tags: intents}).
		SetResult(&resp).
		ForceContentType("application/json").
		Post("/query")
	if err != nil {
		return nil, fmt.Errorf("vector store query request failed: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("vector store query error (%d): %s", httpResp.StatusCode(), httpResp.String())
	}

	var out []domain.PolicyMatch
	for _, res := range resp.Results {
		if len(intents) > 0 && !overlaps(res.Tags, intents) {
			continue
		}
		if res.Score < r.opts.ScoreThreshold {
			continue
		}
		out = append(out, domain.PolicyMatch{
			Policy: domain.Policy{ID: res.DocumentID, Text: res.TextPreview, Intents: res.Tags},
			Score:  res.Score,
		})
	}
	sortMatches(out)
	if len(out) > r.opts.RerankTopN {
		out = out[:r.opts.RerankTopN]
	}
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}
