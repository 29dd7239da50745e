package rpc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	vo "github.com/crosszan/nblm/vo/notebooklm_vo"
)

// Chunk is one JSON value recovered from one framed segment of a response
type Chunk struct {
	Value any
	// Framed is true when a byte-count line immediately preceded the value
	Framed bool
}

// DecodeResponse parses the batchexecute response
func DecodeResponse(response string, rpcID vo.RPCMethod) (any, error) {
	chunks := ParseChunks(response)

	// Extract result for the RPC ID
	return ExtractRPCResult(chunks, string(rpcID))
}

// StripAntiXSSI removes Google's anti-XSSI prefix
func StripAntiXSSI(response string) string {
	return strings.TrimPrefix(response, AntiXSSIPrefix)
}

// ParseChunks strips the prefix and parses the alternating byte-count/json format.
// Lines that fail to parse are skipped.
func ParseChunks(response string) []Chunk {
	var chunks []Chunk
	lines := strings.Split(strings.TrimSpace(StripAntiXSSI(response)), "\n")

	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			i++
			continue
		}

		// Try to parse as byte count (integer line)
		if _, err := strconv.Atoi(line); err != nil {
			// Not a byte count, try parsing as JSON directly
			if v, ok := parseJSON(line); ok {
				chunks = append(chunks, Chunk{Value: v})
			}
			i++
			continue
		}

		// Next line should be JSON payload
		i++
		if i >= len(lines) {
			break
		}
		if v, ok := parseJSON(lines[i]); ok {
			chunks = append(chunks, Chunk{Value: v, Framed: true})
		}
		i++
	}

	return chunks
}

func parseJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// resultEntries yields every ["wrb.fr" | "er", ...] entry inside a chunk
func resultEntries(chunk any) [][]any {
	arr, ok := chunk.([]any)
	if !ok {
		return nil
	}

	// A chunk may be a single entry or a list of entries
	if tag, ok := StringAt(arr, 0); ok && (tag == tagResult || tag == tagError) {
		if len(arr) < 2 {
			return nil
		}
		return [][]any{arr}
	}

	var entries [][]any
	for _, item := range arr {
		itemArr, ok := item.([]any)
		if !ok || len(itemArr) < 2 {
			continue
		}
		if tag, _ := itemArr[0].(string); tag == tagResult || tag == tagError {
			entries = append(entries, itemArr)
		}
	}
	return entries
}

// ExtractRPCResult finds the result for a specific RPC ID
func ExtractRPCResult(chunks []Chunk, rpcID string) (any, error) {
	var foundIDs []string

	for _, chunk := range chunks {
		for _, item := range resultEntries(chunk.Value) {
			itemType, _ := item[0].(string)
			itemID, _ := item[1].(string)

			if itemID != "" {
				foundIDs = append(foundIDs, itemID)
			}
			// a null id still belongs to the only call in the batch
			if itemID != rpcID && itemID != "" {
				continue
			}

			// Check for error response
			if itemType == tagError {
				errMsg := "RPC error"
				if len(item) > 2 {
					errMsg = fmt.Sprintf("RPC error: %v", item[2])
				}
				return nil, fmt.Errorf("%w: %s", ErrRPCError, errMsg)
			}

			// Embedded error signal: null payload with error info at offset 5
			if sig, ok := errorSignalFromEntry(item); ok {
				return nil, sig.Err()
			}

			// Check for UserDisplayableError (rate limiting)
			if len(item) > 5 && item[5] != nil && containsUserDisplayableError(item[5]) {
				return nil, ErrRateLimited
			}

			if len(item) < 3 || item[2] == nil {
				return nil, nil
			}

			result := item[2]

			// If result is a string, it's JSON that needs to be parsed again
			if strResult, ok := result.(string); ok {
				if parsed, ok := parseJSON(strResult); ok {
					return parsed, nil
				}
				return strResult, nil
			}

			return result, nil
		}
	}

	return nil, fmt.Errorf("%w: %s (found IDs: %v)", ErrNoResult, rpcID, foundIDs)
}

// containsUserDisplayableError checks for rate limit errors
func containsUserDisplayableError(data any) bool {
	str := fmt.Sprintf("%v", data)
	return strings.Contains(str, "UserDisplayableError")
}
