// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"
	"strings"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/collaborator/httprequest"
	"github.com/brandkit/conveyor/pkg/collaborator/logecho"
	"github.com/brandkit/conveyor/pkg/statemachine"
)

var builtinKinds = []string{
	statemachine.JobKindContentGenerate,
	statemachine.JobKindContentDistribute,
	statemachine.JobKindApprovalRoute,
}

// NewCollaboratorRegistry registers one collaborator per built-in job kind.
// Kinds present in endpoints get the HTTP collaborator posting to that URL;
// the rest fall back to the log-echo collaborator.
func NewCollaboratorRegistry(logger *slog.Logger, endpoints map[string]string) *collaborator.Registry {
	registry := collaborator.NewRegistry(logger)

	for _, kind := range builtinKinds {
		url, ok := endpoints[kind]
		if ok {
			registry.Register(httprequest.New(kind, url, nil, logger))

			continue
		}

		registry.Register(logecho.New(kind, logger))
	}

	return registry
}

// ParseEndpoints parses a "kind=url,kind=url" flag value.
func ParseEndpoints(raw string) map[string]string {
	endpoints := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		kind, url, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || kind == "" || url == "" {
			continue
		}

		endpoints[kind] = url
	}

	return endpoints
}
