package edgar

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"edgarrag/internal/util"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	searchURL  = "https://efts.sec.gov/LATEST/search-index"
	dataURL    = "https://data.sec.gov"
	archiveURL = "https://www.sec.gov/Archives/edgar/data"

	maxBodyBytes = 64 << 20
)

type Options struct {
	UserAgent string
	// RateLimit is requests per second across every call type; values
	// below 1 are raised to 1.
	RateLimit  float64
	CacheDir   string
	HTTPClient *http.Client
}

// Client talks to the SEC EDGAR endpoints. Every outbound request passes
// through one limiter, so the cap applies to the process as a whole.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	cacheDir  string

	searchURL  string
	dataURL    string
	archiveURL string
}

func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	rps := opts.RateLimit
	if rps < 1 {
		rps = 1
	}
	return &Client{
		http:       hc,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		userAgent:  opts.UserAgent,
		cacheDir:   opts.CacheDir,
		searchURL:  searchURL,
		dataURL:    dataURL,
		archiveURL: archiveURL,
	}
}

// WithBaseURLs points the client at alternate hosts. Empty values keep the
// current setting.
func (c *Client) WithBaseURLs(search, data, archive string) *Client {
	if search != "" {
		c.searchURL = search
	}
	if data != "" {
		c.dataURL = strings.TrimRight(data, "/")
	}
	if archive != "" {
		c.archiveURL = strings.TrimRight(archive, "/")
	}
	return c
}

type SearchQuery struct {
	Query     string
	Start     int
	Count     int
	FormTypes []string
	DateFrom  string
	DateTo    string
}

type SearchHit struct {
	CIK             string `json:"cik"`
	AccessionNumber string `json:"accession_number"`
	FormType        string `json:"form_type"`
	FiledDate       string `json:"filed_date,omitempty"`
	FilingURL       string `json:"filing_url,omitempty"`
	CompanyName     string `json:"company_name,omitempty"`
}

// SearchFilings runs an EDGAR full-text search.
func (c *Client) SearchFilings(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	params := url.Values{}
	params.Set("q", q.Query)
	params.Set("start", strconv.Itoa(q.Start))
	count := q.Count
	if count <= 0 {
		count = 10
	}
	params.Set("count", strconv.Itoa(count))
	if len(q.FormTypes) > 0 {
		params.Set("forms", strings.Join(q.FormTypes, ","))
	}
	if q.DateFrom != "" {
		params.Set("from", q.DateFrom)
	}
	if q.DateTo != "" {
		params.Set("to", q.DateTo)
	}

	var payload struct {
		Hits struct {
			Hits []struct {
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := c.getJSON(ctx, c.searchURL+"?"+params.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("search filings: %w", err)
	}
	out := make([]SearchHit, 0, len(payload.Hits.Hits))
	for _, h := range payload.Hits.Hits {
		src := h.Source
		out = append(out, SearchHit{
			CIK:             PadCIK(firstString(src, "cik", "ciks")),
			AccessionNumber: firstString(src, "accessionNo", "accession_number"),
			FormType:        firstString(src, "formType", "form_type"),
			FiledDate:       firstString(src, "filedDate", "filed_date"),
			FilingURL:       firstString(src, "linkToFilingDetails", "filingDetail"),
			CompanyName:     firstString(src, "companyName", "company_name"),
		})
	}
	return out, nil
}

// CompanySubmissions returns the raw submissions document for a company.
func (c *Client) CompanySubmissions(ctx context.Context, cik string) (map[string]any, error) {
	if _, err := archiveCIK(cik); err != nil {
		return nil, err
	}
	var out map[string]any
	u := fmt.Sprintf("%s/submissions/CIK%s.json", c.dataURL, PadCIK(cik))
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("company submissions %s: %w", cik, err)
	}
	return out, nil
}

type IndexItem struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// UnmarshalJSON accepts size as a number, a numeric string, or "".
func (i *IndexItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name string          `json:"name"`
		Size json.RawMessage `json:"size"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	i.Name = raw.Name
	s := strings.Trim(strings.TrimSpace(string(raw.Size)), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		i.Size = n
	}
	return nil
}

type FilingIndex struct {
	Items []IndexItem `json:"items"`
}

func (c *Client) FilingIndex(ctx context.Context, cik, accession string) (FilingIndex, error) {
	base, err := c.filingBase(cik, accession)
	if err != nil {
		return FilingIndex{}, err
	}
	var payload struct {
		Directory struct {
			Item []IndexItem `json:"item"`
		} `json:"directory"`
	}
	if err := c.getJSON(ctx, base+"/index.json", &payload); err != nil {
		return FilingIndex{}, fmt.Errorf("filing index %s: %w", accession, err)
	}
	return FilingIndex{Items: payload.Directory.Item}, nil
}

// PrimaryDocument downloads the main document of a filing, preferring a
// cached copy. Candidates are tried in rank order; a 404 moves on to the
// next one and any other failure stops the search.
func (c *Client) PrimaryDocument(ctx context.Context, cik, accession string) (string, error) {
	accession, err := SanitizeAccession(accession)
	if err != nil {
		return "", err
	}
	cachePath := ""
	if c.cacheDir != "" {
		cachePath = util.SafeJoin(c.cacheDir, accession+".html")
		if b, err := os.ReadFile(cachePath); err == nil {
			return string(b), nil
		}
	}

	idx, err := c.FilingIndex(ctx, cik, accession)
	if err != nil {
		return "", err
	}
	base, err := c.filingBase(cik, accession)
	if err != nil {
		return "", err
	}
	candidates := RankCandidates(idx.Items)
	for _, name := range candidates {
		body, found, err := c.fetchCandidate(ctx, base+"/"+url.PathEscape(name))
		if err != nil {
			return "", fmt.Errorf("download %s/%s: %w", accession, name, err)
		}
		if !found {
			log.Debug().Str("accession", accession).Str("candidate", name).Msg("candidate not found, trying next")
			continue
		}
		if cachePath != "" {
			if err := util.WriteTextAtomic(cachePath, body); err != nil {
				log.Warn().Err(err).Str("path", filepath.Base(cachePath)).Msg("cache write failed")
			}
		}
		return body, nil
	}
	return "", fmt.Errorf("%w: no primary document for %s (%d candidates)", util.ErrNotFound, accession, len(candidates))
}

// RankCandidates orders index entries for primary-document selection: html
// files not named like an index, then .txt files, then any remaining html.
// Larger files come first within a class.
func RankCandidates(items []IndexItem) []string {
	type cand struct {
		name  string
		class int
		size  int64
	}
	cands := make([]cand, 0, len(items))
	for _, it := range items {
		low := strings.ToLower(it.Name)
		isHTML := strings.HasSuffix(low, ".htm") || strings.HasSuffix(low, ".html")
		switch {
		case isHTML && !strings.Contains(low, "index"):
			cands = append(cands, cand{it.Name, 0, it.Size})
		case strings.HasSuffix(low, ".txt"):
			cands = append(cands, cand{it.Name, 1, it.Size})
		case isHTML:
			cands = append(cands, cand{it.Name, 2, it.Size})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].class != cands[j].class {
			return cands[i].class < cands[j].class
		}
		return cands[i].size > cands[j].size
	})
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.name)
	}
	return out
}

func (c *Client) filingBase(cik, accession string) (string, error) {
	accession, err := SanitizeAccession(accession)
	if err != nil {
		return "", err
	}
	n, err := archiveCIK(cik)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", c.archiveURL, n, noDash(accession)), nil
}

func (c *Client) fetchCandidate(ctx context.Context, u string) (string, bool, error) {
	body, status, err := c.get(ctx, u)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if status >= 400 {
		return "", false, fmt.Errorf("GET %s returned status %d", u, status)
	}
	return string(body), true, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	body, status, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: GET %s", util.ErrNotFound, u)
	}
	if status >= 400 {
		return fmt.Errorf("GET %s returned status %d: %s", u, status, util.DisplaySnippet(string(body), 200))
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}

// get is the single throttled entry point for outbound requests.
func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("GET %s: %w", u, err)
	}
	defer resp.Body.Close()

	var r io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("gzip body from %s: %w", u, err)
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, fmt.Errorf("deflate body from %s: %w", u, err)
		}
		defer zr.Close()
		r = zr
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s: %w", u, err)
	}
	return body, resp.StatusCode, nil
}

func firstString(src map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := src[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		case []any:
			if len(v) > 0 {
				if s := fmt.Sprint(v[0]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}
