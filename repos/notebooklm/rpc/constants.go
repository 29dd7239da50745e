// Package rpc implements the Google batchexecute RPC protocol
package rpc

const (
	// BaseURL is the NotebookLM homepage
	BaseURL = "https://notebooklm.google.com/"

	// BatchExecutePath is the main RPC endpoint
	BatchExecutePath = "_/LabsTailwindUi/data/batchexecute"

	// QueryPath is the streaming endpoint for chat
	QueryPath = "_/LabsTailwindUi/data/google.internal.labs.tailwind.orchestration.v1.LabsTailwindOrchestrationService/GenerateFreeFormStreamed"

	// UploadPath is for file uploads
	UploadPath = "upload/_/"

	// AntiXSSIPrefix is prepended to responses by Google
	AntiXSSIPrefix = ")]}'"

	// BuildLabelFallback is used when neither an override nor an extracted label exists
	BuildLabelFallback = "boq_labs-tailwind-frontend_20241209.08_p1"

	// DefaultLanguage is the hl parameter default
	DefaultLanguage = "en"

	// ReqIDStep is how far _reqid advances per request. The backend expects this magnitude.
	ReqIDStep = 100000

	// UploadURLHeader carries the session URL in the upload start response
	UploadURLHeader = "x-goog-upload-url"

	tagResult = "wrb.fr"
	tagError  = "er"
)

// Endpoints groups the URLs a client talks to
type Endpoints struct {
	Base         string
	BatchExecute string
	Query        string
	Upload       string
}

// DefaultEndpoints returns the production NotebookLM endpoints
func DefaultEndpoints() Endpoints {
	return EndpointsFor(BaseURL)
}

// EndpointsFor derives all endpoints from a base URL ending in "/"
func EndpointsFor(base string) Endpoints {
	if base == "" || base[len(base)-1] != '/' {
		base += "/"
	}
	return Endpoints{
		Base:         base,
		BatchExecute: base + BatchExecutePath,
		Query:        base + QueryPath,
		Upload:       base + UploadPath,
	}
}
