package syncflow

import (
	runtimepkg "github.com/drblury/syncflow/internal/runtime"
	channelpkg "github.com/drblury/syncflow/internal/runtime/channel"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/syncflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	streampkg "github.com/drblury/syncflow/internal/runtime/stream"
	stuffingpkg "github.com/drblury/syncflow/internal/runtime/stuffing"
	transportpkg "github.com/drblury/syncflow/internal/runtime/transport"
	backends "github.com/drblury/syncflow/transport"
)

type (
	Config       = configpkg.Config
	Transport    = runtimepkg.Transport
	Dependencies = runtimepkg.Dependencies
	Handler      = runtimepkg.Handler
	Future       = runtimepkg.Future
	Stats        = runtimepkg.Stats
	DrainResult  = runtimepkg.DrainResult

	Hooks       = runtimepkg.Hooks
	RequestInfo = runtimepkg.RequestInfo
	Metrics     = runtimepkg.Metrics

	Scheduler      = runtimepkg.Scheduler
	Drainer        = runtimepkg.Drainer
	TickSource     = runtimepkg.TickSource
	IntervalTicker = runtimepkg.IntervalTicker
	ManualTicker   = runtimepkg.ManualTicker

	BlockingAdapter = runtimepkg.BlockingAdapter
	Requester       = runtimepkg.Requester

	Producer     = runtimepkg.Producer
	ProducerFunc = runtimepkg.ProducerFunc
	JSONPayload  = runtimepkg.JSONPayload

	Codec = stuffingpkg.Codec

	SyncChannel      = channelpkg.SyncChannel
	PacketHandler    = channelpkg.PacketHandler
	WatermillChannel = channelpkg.Watermill
	WatermillConfig  = channelpkg.WatermillConfig

	ServiceLogger = loggingpkg.ServiceLogger
	LogFields     = loggingpkg.LogFields

	TransportFactory = transportpkg.Factory
	Capabilities     = backends.Capabilities

	ProtocolViolationError = errspkg.ProtocolViolationError
)

const (
	DefaultChannelSystem  = configpkg.DefaultChannelSystem
	DefaultTopic          = configpkg.DefaultTopic
	DefaultSourceCount    = configpkg.DefaultSourceCount
	DefaultMaxPayload     = configpkg.DefaultMaxPayload
	DefaultPacketsPerTick = configpkg.DefaultPacketsPerTick
	DefaultTicksPerSecond = configpkg.DefaultTicksPerSecond

	// Escape marks a stuffed byte in encoded messages.
	Escape = stuffingpkg.Escape
)

var (
	NewTransport       = runtimepkg.NewTransport
	NewScheduler       = runtimepkg.NewScheduler
	NewIntervalTicker  = runtimepkg.NewIntervalTicker
	NewManualTicker    = runtimepkg.NewManualTicker
	NewBlockingAdapter = runtimepkg.NewBlockingAdapter
	NewMetrics         = runtimepkg.NewMetrics

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	JSON           = runtimepkg.JSON
	UnmarshalProto = runtimepkg.UnmarshalProto
	UnmarshalJSON  = runtimepkg.UnmarshalJSON

	// Byte stuffing and framing.
	NewCodec      = stuffingpkg.NewCodec
	Encode        = stuffingpkg.Encode
	Decode        = stuffingpkg.Decode
	MaxEncodedLen = stuffingpkg.MaxEncodedLen
	FlitCount     = streampkg.FlitCount

	// ForbiddenBytes is the byte set no flit may carry on the bundled channels.
	ForbiddenBytes      = channelpkg.ForbiddenBytes
	NewWatermillChannel = channelpkg.NewWatermill
	ValidateFlit        = channelpkg.Validate

	LoadConfigFile = configpkg.LoadFile
	DecodeConfig   = configpkg.Decode
	ValidateConfig = configpkg.ValidateConfig
	ValidatePacing = configpkg.ValidatePacing

	// Channel backends.
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	DefaultTransportRegistry = backends.DefaultRegistry
	RegisterTransport        = backends.Register
	BuildTransport           = backends.Build

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewWatermillAdapter       = loggingpkg.NewWatermillAdapter
	NopServiceLogger          = loggingpkg.NopServiceLogger

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	NewRequestID = idspkg.NewRequestID

	ErrTooManyUnsupported = errspkg.ErrTooManyUnsupported
	ErrInvalidUnsupported = errspkg.ErrInvalidUnsupported
	ErrDanglingEscape     = errspkg.ErrDanglingEscape
	ErrNoPendingCallback  = errspkg.ErrNoPendingCallback
	ErrUnknownSource      = errspkg.ErrUnknownSource
	ErrNotLocalOwner      = errspkg.ErrNotLocalOwner
	ErrUnsupportedPayload = errspkg.ErrUnsupportedPayload
	ErrChannelRequired    = errspkg.ErrChannelRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrFlitTooLarge       = errspkg.ErrFlitTooLarge
	ErrInvalidMaxPayload  = errspkg.ErrInvalidMaxPayload
	ErrForbiddenByte      = errspkg.ErrForbiddenByte
	ErrTransportClosed    = errspkg.ErrTransportClosed
	ErrHandlerPanicked    = errspkg.ErrHandlerPanicked
)
