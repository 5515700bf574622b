// Package tripstream provides the public API for embedding the
// recommendation stream pipeline.
// This is the stable API for external consumers.
package tripstream

import (
	"github.com/tjfontaine/tripstream/internal/envelope"
	"github.com/tjfontaine/tripstream/internal/progress"
	"github.com/tjfontaine/tripstream/internal/stream"
	"github.com/tjfontaine/tripstream/internal/transport"
)

// Pipeline ingests recommendation streams.
// See internal/stream.Pipeline for full documentation.
type Pipeline = stream.Pipeline

// Session is one stream from connect to a terminal state.
type Session = stream.Session

// Option is a functional option for configuring a Pipeline.
type Option = stream.Option

type (
	SessionContext = stream.SessionContext
	ProgressState  = stream.ProgressState
	Result         = stream.Result
	Status         = progress.Status
	Part           = envelope.Part
	Opener         = stream.Opener
	TextReader     = stream.TextReader

	// DomainError is an error reported by the backend.
	DomainError = stream.DomainError

	// TransportError is a non-2xx status, an absent body or a network failure.
	TransportError = transport.Error

	Client        = transport.Client
	ClientOption  = transport.ClientOption
	TokenProvider = transport.TokenProvider
	BreakerConfig = transport.BreakerConfig
)

// New creates a new Pipeline with the given options.
// Example:
//
//	p := tripstream.New(
//	    tripstream.WithClient(tripstream.NewClient(tripstream.WithTokenProvider(tokens))),
//	    tripstream.WithCompletion(func(r tripstream.Result) { ... }),
//	)
//	s, err := p.Connect(ctx, url, body, tripstream.SessionContext{UserMessage: msg})
var New = stream.New

// Pipeline options
var (
	WithOpener       = stream.WithOpener
	WithClient       = stream.WithClient
	WithResultStore  = stream.WithResultStore
	WithFrameLog     = stream.WithFrameLog
	WithLogger       = stream.WithLogger
	WithTracer       = stream.WithTracer
	WithCompletion   = stream.WithCompletion
	WithErrorHandler = stream.WithErrorHandler
)

// Transport
var (
	NewClient         = transport.NewClient
	WithHTTPClient    = transport.WithHTTPClient
	WithTokenProvider = transport.WithTokenProvider
	WithBreaker       = transport.WithBreaker
	NewBreaker        = transport.NewBreaker
	FromTokenSource   = transport.FromTokenSource
)

var (
	ErrCancelled = stream.ErrCancelled
	ErrAborted   = transport.ErrAborted
)

const (
	StatusConnecting = progress.StatusConnecting
	StatusStreaming  = progress.StatusStreaming
	StatusCompleted  = progress.StatusCompleted
	StatusErrored    = progress.StatusErrored
	StatusCancelled  = progress.StatusCancelled
)

const (
	PartCityData    = envelope.PartCityData
	PartGeneralPOIs = envelope.PartGeneralPOIs
	PartItinerary   = envelope.PartItinerary
	PartHotels      = envelope.PartHotels
	PartRestaurants = envelope.PartRestaurants
	PartActivities  = envelope.PartActivities
)
