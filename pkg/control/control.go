package control

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	version "github.com/knqyf263/go-deb-version"
)

func New() *Fields {
	return &Fields{
		values: map[string]string{},
		names:  map[string]string{},
	}
}

// FromPairs builds a Fields from an ordered list
// of pairs. Later duplicates overwrite earlier values.
func FromPairs(pairs []Field) *Fields {
	f := New()
	for _, p := range pairs {
		f.Set(p.Key, p.Value)
	}
	return f
}

// Get returns the value of the given key.
func (f *Fields) Get(key string) (string, bool) {
	name, ok := f.names[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return f.values[name], true
}

// Value returns the value of the given key, or
// an empty string if it is not set.
func (f *Fields) Value(key string) string {
	v, _ := f.Get(key)
	return v
}

// Set stores a value. If the key already exists its
// position is preserved and the value replaced.
func (f *Fields) Set(key, value string) {
	lower := strings.ToLower(key)
	if name, ok := f.names[lower]; ok {
		f.values[name] = value
		return
	}
	f.names[lower] = key
	f.keys = append(f.keys, key)
	f.values[key] = value
}

func (f *Fields) Delete(key string) {
	lower := strings.ToLower(key)
	name, ok := f.names[lower]
	if !ok {
		return
	}
	delete(f.names, lower)
	delete(f.values, name)
	for i := range f.keys {
		if f.keys[i] == name {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the field names in insertion order.
func (f *Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

func (f *Fields) Len() int {
	return len(f.keys)
}

// Pairs returns the fields in insertion order.
func (f *Fields) Pairs() []Field {
	out := make([]Field, 0, len(f.keys))
	for _, k := range f.keys {
		out = append(out, Field{Key: k, Value: f.values[k]})
	}
	return out
}

func (f *Fields) Clone() *Fields {
	return FromPairs(f.Pairs())
}

func (f *Fields) Package() string {
	return f.Value(FieldPackage)
}

func (f *Fields) Version() string {
	return f.Value(FieldVersion)
}

func (f *Fields) Architecture() string {
	return f.Value(FieldArchitecture)
}

// Validate checks that the fields identifying a
// binary package are present and well-formed.
func (f *Fields) Validate() error {
	for _, k := range []string{FieldPackage, FieldVersion, FieldArchitecture} {
		if strings.TrimSpace(f.Value(k)) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, k)
		}
	}
	if strings.ContainsAny(f.Package(), "/ \t") || strings.ContainsAny(f.Architecture(), "/ \t") {
		return fmt.Errorf("%w: invalid package or architecture name", ErrMalformed)
	}
	if strings.Contains(f.Version(), "/") {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, f.Version())
	}
	if _, err := version.NewVersion(f.Version()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidVersion, f.Version(), err)
	}
	return nil
}

// WriteTo serialises the fields as "Key: Value" lines.
// Multi-line values are written as-is, so continuation
// lines keep their leading whitespace.
func (f *Fields) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, k := range f.keys {
		v := f.values[k]
		var line string
		if v == "" || strings.HasPrefix(v, "\n") {
			line = k + ":" + v + "\n"
		} else {
			line = k + ": " + v + "\n"
		}
		c, err := io.WriteString(w, line)
		n += int64(c)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (f *Fields) String() string {
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.String()
}

// Parse reads a single paragraph. Leading blank lines
// are skipped and parsing stops at the first blank line
// after the paragraph.
func Parse(r io.Reader) (*Fields, error) {
	p := newParser(r)
	f, err := p.next()
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("%w: empty paragraph", ErrMalformed)
	}
	return f, nil
}

// ParseAll reads every paragraph in the stream.
func ParseAll(r io.Reader) ([]*Fields, error) {
	p := newParser(r)
	var out []*Fields
	for {
		f, err := p.next()
		if err != nil {
			return nil, err
		}
		if f == nil {
			return out, nil
		}
		out = append(out, f)
	}
}

type parser struct {
	r    *bufio.Reader
	line int
	eof  bool
}

func newParser(r io.Reader) *parser {
	return &parser{r: bufio.NewReader(r)}
}

func (p *parser) readLine() (string, bool, error) {
	if p.eof {
		return "", false, nil
	}
	s, err := p.r.ReadString('\n')
	if err == io.EOF {
		p.eof = true
		if s == "" {
			return "", false, nil
		}
	} else if err != nil {
		return "", false, err
	}
	p.line++
	return strings.TrimRight(s, "\r\n"), true, nil
}

// next returns the next paragraph, or nil when
// the input is exhausted.
func (p *parser) next() (*Fields, error) {
	var f *Fields
	var last string
	for {
		line, ok, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if !ok {
			return f, nil
		}
		if strings.TrimSpace(line) == "" {
			if f != nil {
				return f, nil
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		// continuation lines are anything that does
		// not start a new "key:" pair
		key, value, isField := splitField(line)
		if !isField {
			if f == nil || last == "" {
				return nil, fmt.Errorf("%w: line %d: continuation without a field", ErrMalformed, p.line)
			}
			f.Set(last, f.Value(last)+"\n"+strings.TrimRight(line, " \t"))
			continue
		}
		if f == nil {
			f = New()
		}
		f.Set(key, value)
		last = key
	}
}

func splitField(line string) (string, string, bool) {
	if line[0] == ' ' || line[0] == '\t' {
		return "", "", false
	}
	key, value, ok := strings.Cut(line, ":")
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}
