// Package signatures assembles the challenge routing and dispatch engine from
// its parts and exposes it as a go-command facade.
package signatures

import "github.com/goliatone/go-signatures/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type CreateSignatureRequestInput = core.CreateSignatureRequestInput

type CompleteSignatureInput = core.CompleteSignatureInput

type AbortSignatureRequestInput = core.AbortSignatureRequestInput

type DegradedStatus = core.DegradedStatus

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds the bare orchestrator. Callers must supply the request store,
// router, dispatcher and mode controller; NewEngine does this for them.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
