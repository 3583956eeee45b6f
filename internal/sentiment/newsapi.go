package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/signal-engine/pkg/errors"
	"github.com/atlas-desktop/signal-engine/pkg/types"
	"github.com/atlas-desktop/signal-engine/pkg/utils"
)

// Keyword lists for headline scoring. Matching is by substring on the
// lowercased title and description.
var (
	PositiveKeywords = []string{"surge", "gain", "profit", "bull", "up", "rally", "strong", "beat", "upbeat", "growth"}
	NegativeKeywords = []string{"drop", "loss", "bear", "down", "fall", "decline", "weak", "miss", "downbeat", "crash"}
)

const articleWeight = 0.5

// NewsAPIConfig configures the NewsAPI client.
type NewsAPIConfig struct {
	BaseURL       string            `mapstructure:"base_url" validate:"required,url"`
	APIKey        string            `mapstructure:"api_key"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RatePerSecond float64           `mapstructure:"rate_per_second" validate:"gt=0"`
	Burst         int               `mapstructure:"burst" validate:"min=1"`
	LookbackDays  int               `mapstructure:"lookback_days" validate:"min=1"`
	PageSize      int               `mapstructure:"page_size" validate:"min=1,max=100"`
	Retry         utils.RetryConfig `mapstructure:"retry"`
}

// DefaultNewsAPIConfig returns the public NewsAPI endpoint settings.
func DefaultNewsAPIConfig() NewsAPIConfig {
	return NewsAPIConfig{
		BaseURL:       "https://newsapi.org/v2",
		Timeout:       10 * time.Second,
		RatePerSecond: 1,
		Burst:         2,
		LookbackDays:  7,
		PageSize:      50,
		Retry:         utils.DefaultRetryConfig(),
	}
}

// NewsAPI scores headlines from newsapi.org with keyword matching.
type NewsAPI struct {
	logger  *zap.Logger
	config  NewsAPIConfig
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewNewsAPI creates a NewsAPI provider.
func NewNewsAPI(logger *zap.Logger, config NewsAPIConfig) *NewsAPI {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 1
	}
	if config.Burst < 1 {
		config.Burst = 1
	}
	if config.LookbackDays < 1 {
		config.LookbackDays = 7
	}
	if config.PageSize < 1 {
		config.PageSize = 50
	}
	return &NewsAPI{
		logger:  logger.Named("newsapi"),
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
		now:     time.Now,
	}
}

// Article is one NewsAPI search hit.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
}

type everythingResponse struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []Article `json:"articles"`
}

// Analyze implements Provider. A missing key or an empty result is not an
// error; it returns a zero score with status NO_API_KEY or NO_NEWS.
func (n *NewsAPI) Analyze(ctx context.Context, symbol string) (types.Sentiment, error) {
	if n.config.APIKey == "" {
		return types.NeutralSentiment(types.SentimentStatusNoAPIKey), nil
	}

	resp, err := utils.Retry(ctx, n.config.Retry, func() (*everythingResponse, error) {
		return n.fetch(ctx, symbol)
	})
	if err != nil {
		return types.NeutralSentiment(types.SentimentStatusError),
			errors.Wrapf(errors.ErrCodeSentimentUnavailable, err, "failed to fetch news for %s", symbol)
	}
	if len(resp.Articles) == 0 {
		return types.NeutralSentiment(types.SentimentStatusNoNews), nil
	}

	s := Score(resp.Articles)
	n.logger.Debug("Scored news",
		zap.String("symbol", symbol),
		zap.Int("articles", s.ArticleCount),
		zap.Float64("score", s.Score),
	)
	return s, nil
}

func (n *NewsAPI) fetch(ctx context.Context, symbol string) (*everythingResponse, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	now := n.now()
	q := url.Values{}
	q.Set("q", symbol)
	q.Set("from", now.AddDate(0, 0, -n.config.LookbackDays).Format("2006-01-02"))
	q.Set("to", now.Format("2006-01-02"))
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", strconv.Itoa(n.config.PageSize))

	endpoint := strings.TrimRight(n.config.BaseURL, "/") + "/everything?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Api-Key", n.config.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := n.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("newsapi returned %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out everythingResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("newsapi error %s: %s", out.Code, out.Message)
	}
	return &out, nil
}

// Score rates each article +0.5, -0.5 or 0 by which keyword list has more
// hits and averages the ratings. Relevance is the share of articles with a
// directional rating.
func Score(articles []Article) types.Sentiment {
	if len(articles) == 0 {
		return types.NeutralSentiment(types.SentimentStatusNoNews)
	}

	total := 0.0
	directional := 0
	for _, a := range articles {
		text := strings.ToLower(a.Title + " " + a.Description)
		pos, neg := countHits(text, PositiveKeywords), countHits(text, NegativeKeywords)
		switch {
		case pos > neg:
			total += articleWeight
			directional++
		case neg > pos:
			total -= articleWeight
			directional++
		}
	}

	first := articles[0]
	return types.Sentiment{
		Score:        utils.Round(total/float64(len(articles)), 2),
		Relevance:    utils.Round(float64(directional)/float64(len(articles))*100, 2),
		Headline:     first.Title,
		Source:       first.Source.Name,
		ArticleCount: len(articles),
		Status:       types.SentimentStatusSuccess,
	}
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			hits++
		}
	}
	return hits
}
