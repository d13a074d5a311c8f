package application

import (
	"context"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

// DownloadDecorator advertises the DirectDownload operation. It is
// registered when resource downloads are enabled.
type DownloadDecorator struct{}

var _ output.CapabilitiesDecorator = DownloadDecorator{}

// Decorate implements output.CapabilitiesDecorator.
func (DownloadDecorator) Decorate(_ context.Context, caps *domain.Capabilities, _ output.CatalogStore) (*domain.Capabilities, error) {
	om := caps.OperationsMetadata
	if om == nil {
		return caps, nil
	}
	if _, ok := om.Operation("DirectDownload"); ok {
		return caps, nil
	}

	var url string
	if op, ok := om.Operation("GetCapabilities"); ok {
		url = op.GetURL
	}
	om.Operations = append(om.Operations, domain.Operation{
		Name:   "DirectDownload",
		GetURL: url,
		Parameters: []domain.Domain{
			{Name: "resourceId"},
			{Name: "fileId"},
		},
	})
	return caps, nil
}

// EncodingDecorator replaces the PostEncoding constraint with the encodings
// the transport accepts.
type EncodingDecorator struct {
	Encodings []string
}

var _ output.CapabilitiesDecorator = EncodingDecorator{}

// Decorate implements output.CapabilitiesDecorator.
func (d EncodingDecorator) Decorate(_ context.Context, caps *domain.Capabilities, _ output.CatalogStore) (*domain.Capabilities, error) {
	om := caps.OperationsMetadata
	if om == nil || len(d.Encodings) == 0 {
		return caps, nil
	}
	values := append([]string(nil), d.Encodings...)
	for i := range om.Constraints {
		if om.Constraints[i].Name == "PostEncoding" {
			om.Constraints[i].Values = values
			return caps, nil
		}
	}
	om.Constraints = append(om.Constraints, domain.Domain{Name: "PostEncoding", Values: values})
	return caps, nil
}
