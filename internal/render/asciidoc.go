package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytesparadise/libasciidoc"
	"github.com/bytesparadise/libasciidoc/pkg/configuration"
	"github.com/sirupsen/logrus"

	"adoc2html/internal/config"
	"adoc2html/internal/domain"
	"adoc2html/internal/infra/logging"
)

// Asciidoc renders with libasciidoc. The zero value is not usable; build it
// with NewAsciidoc.
type Asciidoc struct {
	backend       string
	standalone    bool
	allowIncludes bool
	attributes    map[string]string
	lastUpdated   time.Time
}

// defaultLastUpdated stamps standalone documents when render.last_updated is
// unset. It must not depend on the clock: every replica has to produce the
// same bytes for the same input.
var defaultLastUpdated = time.Unix(0, 0).UTC()

var libraryLogsOnce sync.Once

// NewAsciidoc builds a renderer from cfg.
func NewAsciidoc(cfg config.RenderConfig) *Asciidoc {
	libraryLogsOnce.Do(routeLibraryLogs)

	backend := cfg.Backend
	if backend == "" {
		backend = "html5"
	}
	attrs := make(map[string]string, len(cfg.Attributes))
	for k, v := range cfg.Attributes {
		attrs[k] = v
	}
	lastUpdated := defaultLastUpdated
	if !cfg.LastUpdated.IsZero() {
		lastUpdated = cfg.LastUpdated.UTC().Truncate(time.Second)
	}
	return &Asciidoc{
		backend:       backend,
		standalone:    cfg.Standalone,
		allowIncludes: cfg.AllowIncludes,
		attributes:    attrs,
		lastUpdated:   lastUpdated,
	}
}

// Render converts source to HTML. Panics inside the library are reported as
// ErrRenderFailed.
func (a *Asciidoc) Render(ctx context.Context, source string) (html string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !a.allowIncludes {
		source = escapeIncludes(source)
	}

	defer func() {
		if r := recover(); r != nil {
			html = ""
			err = fmt.Errorf("%w: panic: %v", domain.ErrRenderFailed, r)
		}
	}()

	var out bytes.Buffer
	if _, err := libasciidoc.Convert(strings.NewReader(source), &out, a.configuration()); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRenderFailed, err)
	}
	return out.String(), nil
}

// configuration is rebuilt per call; libasciidoc may mutate it while
// converting.
func (a *Asciidoc) configuration() *configuration.Configuration {
	attrs := make(map[string]interface{}, len(a.attributes)+1)
	for k, v := range a.attributes {
		attrs[k] = v
	}
	if !a.standalone {
		// embedded output drops the document title unless asked to keep it
		attrs["showtitle"] = ""
	}
	return configuration.NewConfiguration(
		configuration.WithBackEnd(a.backend),
		configuration.WithHeaderFooter(a.standalone),
		configuration.WithLastUpdated(a.lastUpdated),
		configuration.WithAttributes(attrs),
	)
}

// Fingerprint identifies the options that shape the output.
func (a *Asciidoc) Fingerprint() string {
	keys := make([]string, 0, len(a.attributes))
	for k := range a.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "backend=%s;standalone=%t;includes=%t;updated=%d",
		a.backend, a.standalone, a.allowIncludes, a.lastUpdated.Unix())
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, a.attributes[k])
	}
	return b.String()
}

// escapeIncludes neutralises include directives so a request cannot read
// files from the server's disk. The {empty} prefix moves the directive off
// column zero and itself renders as nothing, so the line shows as written.
func escapeIncludes(source string) string {
	if !strings.Contains(source, "include::") {
		return source
	}
	lines := strings.SplitAfter(source, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "include::") {
			lines[i] = "{empty}" + line
		}
	}
	return strings.Join(lines, "")
}

// routeLibraryLogs sends libasciidoc's logrus output through the service
// logger. Its per-conversion info lines (parse and render timings) are dropped.
func routeLibraryLogs() {
	logrus.SetOutput(io.Discard)
	logrus.SetLevel(logrus.WarnLevel)
	logrus.AddHook(logrusHook{})
}

type logrusHook struct{}

func (logrusHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

func (logrusHook) Fire(e *logrus.Entry) error {
	kv := make([]any, 0, 2*len(e.Data)+2)
	kv = append(kv, "component", "libasciidoc")
	for k, v := range e.Data {
		kv = append(kv, k, v)
	}
	if e.Level == logrus.WarnLevel {
		logging.Warn(e.Message, kv...)
		return nil
	}
	logging.Error(e.Message, kv...)
	return nil
}
