// Package notebooklmvo defines enums for NotebookLM API
package notebooklmvo

// RPCMethod represents NotebookLM RPC method IDs (reverse-engineered)
type RPCMethod string

const (
	// Notebook operations
	RPCListNotebooks  RPCMethod = "wXbhsf"
	RPCCreateNotebook RPCMethod = "CCqFvf"
	RPCGetNotebook    RPCMethod = "rLM1Ne"
	RPCRenameNotebook RPCMethod = "s0tc2d"
	RPCDeleteNotebook RPCMethod = "WWINqb"

	// Source operations
	RPCAddSource     RPCMethod = "izAoDd"
	RPCAddSourceFile RPCMethod = "o4cbdc"
	RPCDeleteSource  RPCMethod = "tGMBJ"
)

// String returns the raw RPC id
func (m RPCMethod) String() string {
	return string(m)
}

// TurnType marks a chat history entry or a streamed answer chunk.
// 1 is the user message / genuine answer, 2 is the AI message / thinking step.
type TurnType int

const (
	TurnTypeAnswer   TurnType = 1
	TurnTypeThinking TurnType = 2
)

// HistoryRole values used inside the replayed history array
const (
	HistoryRoleUser      = 1
	HistoryRoleAssistant = 2
)

// UploadPhase identifies one step of the resumable upload protocol
type UploadPhase string

const (
	UploadPhaseRegister UploadPhase = "register"
	UploadPhaseStart    UploadPhase = "start_session"
	UploadPhaseStream   UploadPhase = "stream"
)

// SourceStatus codes found at source[3][1]
const (
	SourceStatusProcessing = 1
	SourceStatusReady      = 2
	SourceStatusError      = 3
)
