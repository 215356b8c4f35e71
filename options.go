package logkit

import (
	"time"

	"github.com/dogmatiq/logkit/logstore/journalstore"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// A ClientOption configures the behavior of a [Client].
type ClientOption interface {
	applyClientOption(*Client)
}

// An AppendOption configures the behavior of a single append.
type AppendOption interface {
	applyAppendOption(*appendConfig)
}

// A ReaderOption configures the behavior of a [Reader].
type ReaderOption interface {
	applyReaderOption(*readerConfig)
}

// An AsyncReaderOption configures the behavior of an [AsyncReader].
type AsyncReaderOption interface {
	applyAsyncReaderOption(*asyncReaderConfig)
}

// A ReadOption configures the behavior of both a [Reader] and an
// [AsyncReader].
type ReadOption interface {
	ReaderOption
	AsyncReaderOption
}

// A WriterOption configures the behavior of a [BufferedWriter].
type WriterOption interface {
	applyWriterOption(*writerConfig)
}

type option struct {
	client      func(*Client)
	append      func(*appendConfig)
	cursor      func(*cursorConfig)
	reader      func(*readerConfig)
	asyncReader func(*asyncReaderConfig)
	writer      func(*writerConfig)
}

func (o option) applyClientOption(c *Client) {
	if o.client != nil {
		o.client(c)
	}
}

func (o option) applyAppendOption(c *appendConfig) {
	if o.append != nil {
		o.append(c)
	}
}

func (o option) applyReaderOption(c *readerConfig) {
	if o.cursor != nil {
		o.cursor(&c.cursorConfig)
	}
	if o.reader != nil {
		o.reader(c)
	}
}

func (o option) applyAsyncReaderOption(c *asyncReaderConfig) {
	if o.cursor != nil {
		o.cursor(&c.cursorConfig)
	}
	if o.asyncReader != nil {
		o.asyncReader(c)
	}
}

func (o option) applyWriterOption(c *writerConfig) {
	if o.writer != nil {
		o.writer(c)
	}
}

// WithTracerProvider is a [ClientOption] that sets the OpenTelemetry tracer
// provider used by the client.
func WithTracerProvider(p trace.TracerProvider) ClientOption {
	if p == nil {
		panic("tracer provider must not be nil")
	}

	return option{
		client: func(c *Client) {
			c.telemetry.TracerProvider = p
		},
	}
}

// WithMeterProvider is a [ClientOption] that sets the OpenTelemetry meter
// provider used by the client.
func WithMeterProvider(p metric.MeterProvider) ClientOption {
	if p == nil {
		panic("meter provider must not be nil")
	}

	return option{
		client: func(c *Client) {
			c.telemetry.MeterProvider = p
		},
	}
}

// WithLoggerProvider is a [ClientOption] that sets the OpenTelemetry logger
// provider used by the client.
func WithLoggerProvider(p log.LoggerProvider) ClientOption {
	if p == nil {
		panic("logger provider must not be nil")
	}

	return option{
		client: func(c *Client) {
			c.telemetry.LoggerProvider = p
		},
	}
}

// WithStoreOptions is a [ClientOption] that configures the log store opened
// by [Connect]. It has no effect on clients created by [NewClient].
func WithStoreOptions(options ...journalstore.Option) ClientOption {
	return option{
		client: func(c *Client) {
			c.storeOptions = append(c.storeOptions, options...)
		},
	}
}

type appendConfig struct {
	timestamp bool
	key       string
}

// WithTimestamp is an [AppendOption] that requests the time at which the
// store accepted the record. Without it, the timestamp in the result is the
// zero value.
func WithTimestamp() AppendOption {
	return option{
		append: func(c *appendConfig) {
			c.timestamp = true
		},
	}
}

// WithKey is an [AppendOption] that sets the key of the appended record.
// Readers can exclude records by key using [WithFilter].
func WithKey(k string) AppendOption {
	return option{
		append: func(c *appendConfig) {
			c.key = k
		},
	}
}

const (
	// DefaultPollInterval is the default interval at which readers check for
	// new records.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultEventBuffer is the default number of events an [AsyncReader]
	// buffers ahead of its handlers.
	DefaultEventBuffer = 256

	// DefaultCallbackBudget is the default duration after which an
	// [AsyncReader] handler is reported as slow.
	DefaultCallbackBudget = 1 * time.Second
)

type cursorConfig struct {
	bufferSize         int
	filter             func(key string) bool
	waitOnlyWhenNoData bool
	pollInterval       time.Duration
}

type readerConfig struct {
	cursorConfig
	timeout time.Duration
}

type asyncReaderConfig struct {
	cursorConfig
	eventBuffer    int
	callbackBudget time.Duration
}

// WithBufferSize is a [ReadOption] that sets the number of records the reader
// fetches from each log at a time.
func WithBufferSize(n int) ReadOption {
	if n <= 0 {
		panic("buffer size must be positive")
	}

	return option{
		cursor: func(c *cursorConfig) {
			c.bufferSize = n
		},
	}
}

// WithFilter is a [ReadOption] that excludes records for which fn returns
// false. The excluded records are reported as a
// [logstore.GapFilteredOut] gap.
func WithFilter(fn func(key string) bool) ReadOption {
	if fn == nil {
		panic("filter must not be nil")
	}

	return option{
		cursor: func(c *cursorConfig) {
			c.filter = fn
		},
	}
}

// WithWaitOnlyWhenNoData is a [ReadOption] that makes the reader wait for a
// notification from the store when there is nothing to deliver, instead of
// polling at a fixed interval.
func WithWaitOnlyWhenNoData() ReadOption {
	return option{
		cursor: func(c *cursorConfig) {
			c.waitOnlyWhenNoData = true
		},
	}
}

// WithPollInterval is a [ReadOption] that sets the interval at which the
// reader checks for new records when there is nothing to deliver.
func WithPollInterval(d time.Duration) ReadOption {
	if d <= 0 {
		panic("poll interval must be positive")
	}

	return option{
		cursor: func(c *cursorConfig) {
			c.pollInterval = d
		},
	}
}

// WithTimeout is a [ReaderOption] that limits how long [Reader.Read] waits
// for records. A read that times out returns neither records nor a gap.
func WithTimeout(d time.Duration) ReaderOption {
	return option{
		reader: func(c *readerConfig) {
			c.timeout = d
		},
	}
}

// WithEventBuffer is an [AsyncReaderOption] that sets the number of events
// that are buffered ahead of the reader's handlers.
func WithEventBuffer(n int) AsyncReaderOption {
	if n <= 0 {
		panic("event buffer must be positive")
	}

	return option{
		asyncReader: func(c *asyncReaderConfig) {
			c.eventBuffer = n
		},
	}
}

// WithCallbackBudget is an [AsyncReaderOption] that sets how long a handler
// may run before it is reported as slow. Slow handlers are not interrupted.
func WithCallbackBudget(d time.Duration) AsyncReaderOption {
	return option{
		asyncReader: func(c *asyncReaderConfig) {
			c.callbackBudget = d
		},
	}
}

const (
	// DefaultMaxBatchRecords is the default maximum number of payloads in a
	// single append made by a [BufferedWriter].
	DefaultMaxBatchRecords = 64

	// DefaultMaxBatchBytes is the default maximum combined size of the
	// payloads in a single append made by a [BufferedWriter].
	DefaultMaxBatchBytes = 1 << 20

	// DefaultMaxDelay is the default maximum time a [BufferedWriter] holds a
	// payload before appending it.
	DefaultMaxDelay = 10 * time.Millisecond

	// DefaultMemoryLimit is the default maximum combined size of the payloads
	// held by a [BufferedWriter].
	DefaultMemoryLimit = 64 << 20

	// DefaultRetryLimit is the default number of times a [BufferedWriter]
	// retries an append that failed with a transient error.
	DefaultRetryLimit = 3

	// DefaultRetryDelay is the default upper bound of the first delay before a
	// [BufferedWriter] retries an append.
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultAppendTimeout is the default timeout of each append attempt made
	// by a [BufferedWriter].
	DefaultAppendTimeout = 10 * time.Second
)

type writerConfig struct {
	maxBatchRecords int
	maxBatchBytes   int
	maxDelay        time.Duration
	memoryLimit     int
	retryLimit      int
	retryDelay      time.Duration
	appendTimeout   time.Duration
}

// WithMaxBatchRecords is a [WriterOption] that sets the maximum number of
// payloads in a single append.
func WithMaxBatchRecords(n int) WriterOption {
	if n <= 0 {
		panic("max batch records must be positive")
	}

	return option{
		writer: func(c *writerConfig) {
			c.maxBatchRecords = n
		},
	}
}

// WithMaxBatchBytes is a [WriterOption] that sets the maximum combined size of
// the payloads in a single append. A payload larger than the limit is
// appended on its own.
func WithMaxBatchBytes(n int) WriterOption {
	if n <= 0 {
		panic("max batch bytes must be positive")
	}

	return option{
		writer: func(c *writerConfig) {
			c.maxBatchBytes = n
		},
	}
}

// WithMaxDelay is a [WriterOption] that sets the maximum time a payload is
// held before it is appended.
func WithMaxDelay(d time.Duration) WriterOption {
	return option{
		writer: func(c *writerConfig) {
			c.maxDelay = d
		},
	}
}

// WithMemoryLimit is a [WriterOption] that sets the maximum combined size of
// the payloads held by the writer.
func WithMemoryLimit(n int) WriterOption {
	if n <= 0 {
		panic("memory limit must be positive")
	}

	return option{
		writer: func(c *writerConfig) {
			c.memoryLimit = n
		},
	}
}

// WithRetryPolicy is a [WriterOption] that sets the number of times an append
// that failed with a transient error is retried, and the upper bound of the
// first delay between attempts. The bound doubles with each attempt.
func WithRetryPolicy(limit int, delay time.Duration) WriterOption {
	if limit < 0 {
		panic("retry limit must not be negative")
	}

	return option{
		writer: func(c *writerConfig) {
			c.retryLimit = limit
			c.retryDelay = delay
		},
	}
}

// WithAppendTimeout is a [WriterOption] that sets the timeout of each append
// attempt.
func WithAppendTimeout(d time.Duration) WriterOption {
	if d <= 0 {
		panic("append timeout must be positive")
	}

	return option{
		writer: func(c *writerConfig) {
			c.appendTimeout = d
		},
	}
}
