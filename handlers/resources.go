// ABOUTME: MCP resource handlers exposing the session's current snapshots
// ABOUTME: Serves huddle://<collection> and huddle://tasks/<id> as JSON
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

const resourceScheme = "huddle://"

type ResourceHandlers struct {
	sess *session.Session
}

func NewResourceHandlers(sess *session.Session) *ResourceHandlers {
	return &ResourceHandlers{sess: sess}
}

// Resources lists one resource per tracked collection.
func (h *ResourceHandlers) Resources() []*mcp.Resource {
	var out []*mcp.Resource
	for _, name := range h.sess.Store().Collections() {
		out = append(out, &mcp.Resource{
			URI:         resourceScheme + name,
			Name:        name,
			Description: fmt.Sprintf("Current %s snapshot for the active project", strings.ReplaceAll(name, "_", " ")),
			MIMEType:    "application/json",
		})
	}
	return out
}

type snapshotDocument struct {
	Collection string          `json:"collection"`
	Status     string          `json:"status"`
	Version    uint64          `json:"version"`
	Records    []models.Record `json:"records"`
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	parts := strings.Split(strings.TrimPrefix(uri, resourceScheme), "/")
	if len(parts) == 2 && parts[0] == models.CollectionTasks {
		return h.readTask(uri, parts[1])
	}
	if len(parts) != 1 {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	known := false
	for _, name := range h.sess.Store().Collections() {
		known = known || name == parts[0]
	}
	if !known {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	snap := h.sess.Store().Get(parts[0])
	doc := snapshotDocument{
		Collection: snap.Collection,
		Status:     snap.Status.String(),
		Version:    snap.Version,
		Records:    snap.Records,
	}
	if doc.Records == nil {
		doc.Records = []models.Record{}
	}
	return jsonResource(uri, doc)
}

func (h *ResourceHandlers) readTask(uri, id string) (*mcp.ReadResourceResult, error) {
	task, err := h.sess.Task(id)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return jsonResource(uri, struct {
		models.Task
		Comments []models.Comment `json:"comments"`
	}{task, h.sess.Comments(id)})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}}, nil
}
