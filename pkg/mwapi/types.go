package mwapi

// Response shapes for the api.php actions the offliner uses. Only the
// fields the pipeline reads are declared; the API returns much more.

// SiteInfo is the meta=siteinfo response subset.
type SiteInfo struct {
	General    GeneralInfo          `json:"general"`
	Namespaces map[string]Namespace `json:"namespaces"`
}

// GeneralInfo carries the wiki-wide settings.
type GeneralInfo struct {
	MainPage string `json:"mainpage"`
	SiteName string `json:"sitename"`
	Lang     string `json:"lang"`
	Base     string `json:"base"`
	Logo     string `json:"logo"`
}

// Namespace describes one namespace. The API marks content namespaces
// by the mere presence of the "content" key.
type Namespace struct {
	ID      int     `json:"id"`
	Name    string  `json:"*"`
	Content *string `json:"content"`
}

// IsContent reports whether articles live in this namespace.
func (n Namespace) IsContent() bool { return n.Content != nil }

// Page is one entry of query.pages.
type Page struct {
	PageID      int64        `json:"pageid"`
	NS          int          `json:"ns"`
	Title       string       `json:"title"`
	Missing     *string      `json:"missing"`
	Revisions   []Revision   `json:"revisions"`
	Coordinates []Coordinate `json:"coordinates"`
}

// Revision identifies one revision of a page.
type Revision struct {
	RevID     int64  `json:"revid"`
	Timestamp string `json:"timestamp"`
}

// Coordinate is a geo tag attached to a page.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Backlink is one entry of query.backlinks.
type Backlink struct {
	Title string `json:"title"`
}

// Redirect is one resolved redirect of a titles= query.
type Redirect struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type queryBody struct {
	Pages      map[string]Page      `json:"pages"`
	Backlinks  []Backlink           `json:"backlinks"`
	Redirects  []Redirect           `json:"redirects"`
	General    *GeneralInfo         `json:"general"`
	Namespaces map[string]Namespace `json:"namespaces"`
}

type queryContinue struct {
	AllPages struct {
		GapContinue string `json:"gapcontinue"`
	} `json:"allpages"`
	Backlinks struct {
		BlContinue string `json:"blcontinue"`
	} `json:"backlinks"`
}

type apiResponse struct {
	Query         queryBody     `json:"query"`
	QueryContinue queryContinue `json:"query-continue"`
}
