package extract

// Request is one unit of work handed to an extractor.
type Request struct {
	HTML string `json:"html"`
	URL  string `json:"url"`
	Mode Mode   `json:"mode"`
}

// Content is the structured result of an extraction. The sandbox treats it as
// an opaque payload; only the guest and the fallback path fill it in.
type Content struct {
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Byline       string   `json:"byline,omitempty"`
	PublishedISO string   `json:"published_iso,omitempty"`
	Markdown     string   `json:"markdown,omitempty"`
	Text         string   `json:"text"`
	Links        []string `json:"links,omitempty"`
	Media        []string `json:"media,omitempty"`
	Language     string   `json:"language,omitempty"`
	ReadingTime  int      `json:"reading_time,omitempty"`
	QualityScore int      `json:"quality_score"`
	WordCount    int      `json:"word_count"`
	Categories   []string `json:"categories,omitempty"`
	SiteName     string   `json:"site_name,omitempty"`
	Description  string   `json:"description,omitempty"`

	// Source is "sandbox" or "fallback". Set by the host, never by a guest.
	Source string `json:"source,omitempty"`
}

const (
	SourceSandbox  = "sandbox"
	SourceFallback = "fallback"
)

// Stats accompanies content returned by extract_with_stats.
type Stats struct {
	ProcessingTimeMS int64 `json:"processing_time_ms"`
	MemoryUsedPages  int64 `json:"memory_used_pages,omitempty"`
	NodesProcessed   int   `json:"nodes_processed"`
	LinksFound       int   `json:"links_found"`
	ImagesFound      int   `json:"images_found"`
	FuelConsumed     int64 `json:"fuel_consumed,omitempty"`
}

// HealthStatus is reported by a guest's health_check operation.
type HealthStatus struct {
	Status          string   `json:"status"`
	Version         string   `json:"version,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	ExtractionCount uint64   `json:"extraction_count,omitempty"`
}

// Healthy treats an empty status as healthy so minimal guests need not report one.
func (h HealthStatus) Healthy() bool {
	return h.Status == "" || h.Status == "healthy"
}

// Info describes a guest module.
type Info struct {
	Name           string   `json:"name"`
	Version        string   `json:"version"`
	Features       []string `json:"features,omitempty"`
	SupportedModes []string `json:"supported_modes,omitempty"`
}
