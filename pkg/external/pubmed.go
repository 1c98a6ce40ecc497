package external

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultPubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/"

// PubMedClient handles interactions with NCBI PubMed via E-utilities
type PubMedClient struct {
	baseURL    string
	apiKey     string
	email      string // Required by NCBI for large-scale queries
	maxResults int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// PubMedConfig contains configuration for PubMed client
type PubMedConfig struct {
	BaseURL    string
	APIKey     string
	Email      string
	Timeout    time.Duration
	RateLimit  int
	MaxResults int
}

// NewPubMedClient creates a new PubMed API client
func NewPubMedClient(config PubMedConfig) *PubMedClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultPubMedBaseURL
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 3 // NCBI allows 3 requests per second without a key
	}
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 5
	}

	return &PubMedClient{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		email:      config.Email,
		maxResults: config.MaxResults,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// Article is one PubMed record with the fields used as evidence.
type Article struct {
	PMID     string
	Title    string
	Journal  string
	PubDate  string
	Abstract string
}

// Citation renders the article as a short source line.
func (a Article) Citation() string {
	var b strings.Builder
	b.WriteString("PMID:" + a.PMID)
	if a.Title != "" {
		b.WriteString(" " + a.Title)
	}
	if a.Journal != "" || a.PubDate != "" {
		b.WriteString(" (" + strings.TrimSpace(a.Journal+" "+a.PubDate) + ")")
	}
	return b.String()
}

type searchResponse struct {
	XMLName xml.Name `xml:"eSearchResult"`
	Count   int      `xml:"Count"`
	IDList  struct {
		IDs []string `xml:"Id"`
	} `xml:"IdList"`
}

type summaryResponse struct {
	XMLName   xml.Name          `xml:"eSummaryResult"`
	Summaries []documentSummary `xml:"DocSum"`
}

type documentSummary struct {
	UID   string        `xml:"Id"`
	Items []summaryItem `xml:"Item"`
}

type summaryItem struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

type articleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	MedlineCitation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			ArticleTitle string `xml:"ArticleTitle"`
			Abstract     struct {
				AbstractText []string `xml:"AbstractText"`
			} `xml:"Abstract"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
}

// Search runs an esearch for term and then fetches summaries and abstracts
// for the top hits concurrently. Articles come back in relevance order.
func (p *PubMedClient) Search(ctx context.Context, term string) ([]Article, error) {
	ids, err := p.searchIDs(ctx, term)
	if err != nil {
		return nil, fmt.Errorf("failed to search PubMed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var (
		summaries []documentSummary
		abstracts []pubmedArticle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaries, err = p.fetchSummaries(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		abstracts, err = p.fetchAbstracts(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeArticles(ids, summaries, abstracts), nil
}

func (p *PubMedClient) searchIDs(ctx context.Context, term string) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {term},
		"retmode": {"xml"},
		"retmax":  {fmt.Sprint(p.maxResults)},
		"sort":    {"relevance"},
	}

	var resp searchResponse
	if err := p.get(ctx, "esearch.fcgi", params, &resp); err != nil {
		return nil, err
	}
	return resp.IDList.IDs, nil
}

func (p *PubMedClient) fetchSummaries(ctx context.Context, ids []string) ([]documentSummary, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
	}

	var resp summaryResponse
	if err := p.get(ctx, "esummary.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get article summaries: %w", err)
	}
	return resp.Summaries, nil
}

func (p *PubMedClient) fetchAbstracts(ctx context.Context, ids []string) ([]pubmedArticle, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"retmode": {"xml"},
		"rettype": {"abstract"},
	}

	var resp articleSet
	if err := p.get(ctx, "efetch.fcgi", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get abstracts: %w", err)
	}
	return resp.Articles, nil
}

// get performs one rate limited E-utilities request and decodes the XML body.
func (p *PubMedClient) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	if p.email != "" {
		params.Set("email", p.email)
	}

	fullURL := p.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("PubMed %s returned status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return nil
}

// mergeArticles joins summary and abstract data by PMID, keeping the esearch
// order.
func mergeArticles(ids []string, summaries []documentSummary, abstracts []pubmedArticle) []Article {
	byID := make(map[string]*Article, len(ids))
	articles := make([]Article, len(ids))
	for i, id := range ids {
		articles[i].PMID = id
		byID[id] = &articles[i]
	}

	for _, s := range summaries {
		a, ok := byID[s.UID]
		if !ok {
			continue
		}
		for _, item := range s.Items {
			switch item.Name {
			case "Title":
				a.Title = cleanText(item.Value)
			case "Source":
				a.Journal = cleanText(item.Value)
			case "PubDate":
				a.PubDate = cleanText(item.Value)
			}
		}
	}

	for _, pa := range abstracts {
		a, ok := byID[pa.MedlineCitation.PMID]
		if !ok {
			continue
		}
		if a.Title == "" {
			a.Title = cleanText(pa.MedlineCitation.Article.ArticleTitle)
		}
		a.Abstract = cleanText(strings.Join(pa.MedlineCitation.Article.Abstract.AbstractText, " "))
	}

	return articles
}

// cleanText collapses whitespace left over from XML formatting.
func cleanText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
