package model

// FileType is the detected type of an uploaded document.
type FileType string

const (
	FileTypeExcel           FileType = "excel"
	FileTypeCSV             FileType = "csv"
	FileTypePDF             FileType = "pdf"
	FileTypeImage           FileType = "image"
	FileTypeMindmapXMind    FileType = "mindmap_xmind"
	FileTypeMindmapFreeMind FileType = "mindmap_freemind"
	FileTypeDocx            FileType = "docx"
	FileTypeText            FileType = "text"
	FileTypePptx            FileType = "pptx"
	FileTypeUnknown         FileType = "unknown"
)

// AgentKind identifies one of the closed set of extraction agents.
type AgentKind string

const (
	AgentSpreadsheet AgentKind = "spreadsheet_agent"
	AgentPDFText     AgentKind = "pdf_text_agent"
	AgentPDFHybrid   AgentKind = "pdf_hybrid_agent"
	AgentPDFScanned  AgentKind = "pdf_scanned_agent"
	AgentVision      AgentKind = "vision_agent"
	AgentMindmap     AgentKind = "mindmap_agent"
	AgentGeneric     AgentKind = "generic_agent"
)

// Valid reports whether k is a member of the closed agent enumeration.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentSpreadsheet, AgentPDFText, AgentPDFHybrid, AgentPDFScanned,
		AgentVision, AgentMindmap, AgentGeneric:
		return true
	}
	return false
}

// PDFHints holds structural information gathered at ingestion for PDF files.
type PDFHints struct {
	PageCount         int  `json:"page_count"`
	HasTextLayer      bool `json:"has_text_layer"`
	HasEmbeddedImages bool `json:"has_embedded_images"`
	HasTables         bool `json:"has_tables"`
	IsScanned         bool `json:"is_scanned"`
}

// SheetHints holds structural information for spreadsheet files.
type SheetHints struct {
	SheetCount    int      `json:"sheet_count"`
	SampleHeaders []string `json:"sample_headers,omitempty"`
}

// FileTask is one file to be processed within a job. All fields except the
// two routing fields are immutable after ingestion; Agent and RoutingReason
// are set exactly once by the router.
type FileTask struct {
	FileID  string   `json:"file_id"`
	JobID   string   `json:"job_id"`
	Name    string   `json:"name"`
	Type    FileType `json:"type"`
	Locator string   `json:"locator"` // storage path of the raw bytes

	PDF   *PDFHints   `json:"pdf,omitempty"`
	Sheet *SheetHints `json:"sheet,omitempty"`

	Agent         AgentKind `json:"agent,omitempty"`
	RoutingReason string    `json:"routing_reason,omitempty"`
}
