package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	Type       string   `json:"type"`
	Department string   `json:"department"`
	Status     string   `json:"status"`
	Tags       []string `json:"tags,omitempty"`
}

// Query describes a search request. OrgID is mandatory: results never
// cross tenant boundaries.
type Query struct {
	Text       string
	OrgID      string
	Type       string
	Department string
	Status     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Type       string   `json:"type"`
	Department string   `json:"department"`
	Status     string   `json:"status"`
	OrgID      string   `json:"orgId"`
	Tags       []string `json:"tags"`
}
