package scenario

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/hostrt/errors"
)

// Command ops accepted in submissions.
const (
	OpNop               = "nop"
	OpCopyBuffer        = "copy_buffer"
	OpFillBuffer        = "fill_buffer"
	OpWriteBuffer       = "write_buffer"
	OpCopyBufferToImage = "copy_buffer_to_image"
	OpCopyImageToBuffer = "copy_image_to_buffer"
	OpDispatch          = "dispatch"
	OpDraw              = "draw"
	OpInsertFence       = "insert_fence"
	OpSignalEvent       = "signal_event"
	OpWaitEvents        = "wait_events"
	OpAcquireShared     = "acquire_shared"
	OpReleaseShared     = "release_shared"
)

type Scenario struct {
	Name          string         `yaml:"name" validate:"required"`
	Queues        []Queue        `yaml:"queues" validate:"required,min=1,dive"`
	Buffers       []Buffer       `yaml:"buffers" validate:"dive"`
	Images        []Image        `yaml:"images" validate:"dive"`
	VertexSources []VertexSource `yaml:"vertex_sources" validate:"dive"`
	Kernels       []Kernel       `yaml:"kernels" validate:"dive"`
	Pipelines     []Pipeline     `yaml:"pipelines" validate:"dive"`
	Events        []string       `yaml:"events" validate:"dive,required"`
	Fences        []Fence        `yaml:"fences" validate:"dive"`
	Submissions   []Submission   `yaml:"submissions" validate:"required,min=1,dive"`
	// Wait lists events to wait for before checking expectations.
	Wait   []string `yaml:"wait"`
	Expect []Expect `yaml:"expect" validate:"dive"`

	// dir resolves relative kernel paths.
	dir string
}

type Queue struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=render compute transfer"`
}

type Buffer struct {
	Name   string `yaml:"name" validate:"required"`
	Size   uint64 `yaml:"size" validate:"min=1"`
	Shared bool   `yaml:"shared"`
	// Init is written into the buffer before the first submission.
	Init string `yaml:"init" validate:"omitempty,hexadecimal"`
}

type Image struct {
	Name   string `yaml:"name" validate:"required"`
	Format string `yaml:"format" validate:"required,oneof=rgba8unorm bgra8unorm r8unorm"`
	Width  uint32 `yaml:"width" validate:"min=1"`
	Height uint32 `yaml:"height" validate:"min=1"`
	Shared bool   `yaml:"shared"`
}

type VertexSource struct {
	Name   string `yaml:"name" validate:"required"`
	Buffer string `yaml:"buffer" validate:"required"`
	Offset uint64 `yaml:"offset"`
	Stride uint32 `yaml:"stride"`
	Format string `yaml:"format" validate:"required,oneof=float32 float32x2 float32x4"`
}

type Kernel struct {
	Name  string `yaml:"name" validate:"required"`
	Path  string `yaml:"path" validate:"required"`
	Entry string `yaml:"entry" validate:"required"`
}

type Pipeline struct {
	Name   string   `yaml:"name" validate:"required"`
	Kind   string   `yaml:"kind" validate:"required"`
	Kernel string   `yaml:"kernel" validate:"required_if=Kind wasm"`
	Color  [4]uint8 `yaml:"color"`
}

type Fence struct {
	Name  string `yaml:"name" validate:"required"`
	Queue string `yaml:"queue" validate:"required"`
	Link  string `yaml:"link"`
}

type Submission struct {
	Queue    string    `yaml:"queue" validate:"required"`
	Commands []Command `yaml:"commands" validate:"required,min=1,dive"`
}

// Command is one recorded command. Which fields apply depends on Op.
type Command struct {
	Op        string    `yaml:"op" validate:"required,oneof=nop copy_buffer fill_buffer write_buffer copy_buffer_to_image copy_image_to_buffer dispatch draw insert_fence signal_event wait_events acquire_shared release_shared"`
	Src       string    `yaml:"src"`
	Dst       string    `yaml:"dst"`
	SrcOffset uint64    `yaml:"src_offset"`
	DstOffset uint64    `yaml:"dst_offset"`
	Size      uint64    `yaml:"size"`
	Pattern   string    `yaml:"pattern" validate:"required_if=Op fill_buffer,omitempty,hexadecimal"`
	Data      string    `yaml:"data" validate:"required_if=Op write_buffer,omitempty,hexadecimal"`
	Pipeline  string    `yaml:"pipeline" validate:"required_if=Op dispatch,required_if=Op draw"`
	Groups    [3]uint32 `yaml:"groups"`
	Args      []string  `yaml:"args"`
	Vertices  string    `yaml:"vertices"`
	Target    string    `yaml:"target" validate:"required_if=Op draw"`
	First     uint32    `yaml:"first"`
	Count     uint32    `yaml:"count"`
	Instances uint32    `yaml:"instances"`
	Fence     string    `yaml:"fence" validate:"required_if=Op insert_fence"`
	Event     string    `yaml:"event" validate:"required_if=Op signal_event"`
	Events    []string  `yaml:"events" validate:"required_if=Op wait_events"`
	Resources []string  `yaml:"resources"`
}

// Expect compares resource bytes starting at Offset with Hex.
type Expect struct {
	Resource string `yaml:"resource" validate:"required"`
	Offset   uint64 `yaml:"offset"`
	Hex      string `yaml:"hex" validate:"required,hexadecimal"`
}

// Load reads and validates a scenario file. Kernel paths are resolved
// relative to the file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "read "+path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "parse scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that every name a command refers to
// is declared with the right kind.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "validate scenario")
	}
	return s.checkRefs()
}

// kinds of declared names
const (
	kindQueue    = "queue"
	kindBuffer   = "buffer"
	kindImage    = "image"
	kindVertices = "vertex source"
	kindKernel   = "kernel"
	kindPipeline = "pipeline"
	kindEvent    = "event"
	kindFence    = "fence"
)

func (s *Scenario) names() (map[string]string, error) {
	names := make(map[string]string)
	add := func(name, kind string) error {
		if prev, dup := names[name]; dup {
			return fmt.Errorf("%s %q already declared as a %s", kind, name, prev)
		}
		names[name] = kind
		return nil
	}
	var err error
	for _, q := range s.Queues {
		err = firstErr(err, add(q.Name, kindQueue))
	}
	for _, b := range s.Buffers {
		err = firstErr(err, add(b.Name, kindBuffer))
	}
	for _, i := range s.Images {
		err = firstErr(err, add(i.Name, kindImage))
	}
	for _, v := range s.VertexSources {
		err = firstErr(err, add(v.Name, kindVertices))
	}
	for _, k := range s.Kernels {
		err = firstErr(err, add(k.Name, kindKernel))
	}
	for _, p := range s.Pipelines {
		err = firstErr(err, add(p.Name, kindPipeline))
	}
	for _, e := range s.Events {
		err = firstErr(err, add(e, kindEvent))
	}
	for _, f := range s.Fences {
		err = firstErr(err, add(f.Name, kindFence))
	}
	return names, err
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

func (s *Scenario) checkRefs() error {
	names, err := s.names()
	if err != nil {
		return refError(err)
	}
	ref := func(where, name string, kinds ...string) error {
		if name == "" {
			return nil
		}
		got, ok := names[name]
		if !ok {
			return fmt.Errorf("%s: %q is not declared", where, name)
		}
		for _, k := range kinds {
			if got == k {
				return nil
			}
		}
		return fmt.Errorf("%s: %q is a %s, want %s", where, name, got, strings.Join(kinds, " or "))
	}
	refs := func(where string, list []string, kinds ...string) error {
		for _, n := range list {
			if err := ref(where, n, kinds...); err != nil {
				return err
			}
		}
		return nil
	}

	for _, v := range s.VertexSources {
		err = firstErr(err, ref("vertex source "+v.Name, v.Buffer, kindBuffer))
	}
	for _, p := range s.Pipelines {
		err = firstErr(err, ref("pipeline "+p.Name, p.Kernel, kindKernel))
	}
	for _, f := range s.Fences {
		err = firstErr(err, ref("fence "+f.Name, f.Queue, kindQueue))
		err = firstErr(err, ref("fence "+f.Name, f.Link, kindEvent))
	}
	for i, sub := range s.Submissions {
		where := fmt.Sprintf("submission %d", i)
		err = firstErr(err, ref(where, sub.Queue, kindQueue))
		for j, c := range sub.Commands {
			w := fmt.Sprintf("%s command %d (%s)", where, j, c.Op)
			err = firstErr(err, ref(w, c.Event, kindEvent))
			err = firstErr(err, refs(w, c.Events, kindEvent))
			err = firstErr(err, ref(w, c.Fence, kindFence))
			err = firstErr(err, ref(w, c.Pipeline, kindPipeline))
			err = firstErr(err, ref(w, c.Vertices, kindVertices))
			err = firstErr(err, ref(w, c.Target, kindImage))
			err = firstErr(err, refs(w, c.Args, kindBuffer, kindImage))
			err = firstErr(err, refs(w, c.Resources, kindBuffer, kindImage))
			switch c.Op {
			case OpCopyBufferToImage:
				err = firstErr(err, ref(w, c.Src, kindBuffer))
				err = firstErr(err, ref(w, c.Dst, kindImage))
			case OpCopyImageToBuffer:
				err = firstErr(err, ref(w, c.Src, kindImage))
				err = firstErr(err, ref(w, c.Dst, kindBuffer))
			default:
				err = firstErr(err, ref(w, c.Src, kindBuffer))
				err = firstErr(err, ref(w, c.Dst, kindBuffer))
			}
		}
	}
	err = firstErr(err, refs("wait", s.Wait, kindEvent))
	for i, e := range s.Expect {
		err = firstErr(err, ref(fmt.Sprintf("expect %d", i), e.Resource, kindBuffer, kindImage))
	}
	if err != nil {
		return refError(err)
	}
	return nil
}

func refError(err error) error {
	return errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "scenario references")
}

// decodeHex accepts an optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, fmt.Sprintf("hex %q", s))
	}
	return b, nil
}
