// Package superimage parses a super_def.*.json manifest and drives the
// external lpmake (and, when the manifest points at an already-sparse
// super.img, simg2img) tools to compose a dynamic-partition super image.
// os/exec is the natural fit for invoking these external binaries; no
// third-party process-exec library improves on it for a plain
// run-and-check-exit-code shell-out.
package superimage

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// Group is a named partition group with an optional size ceiling
// (super_def.*.json's "groups" array).
type Group struct {
	Name        string `json:"name"`
	MaximumSize int64  `json:"maximum_size,omitempty"`
}

// Partition is one entry in super_def.*.json's "partitions" array.
type Partition struct {
	Name      string `json:"name"`
	Group     string `json:"group"`
	IsDynamic bool   `json:"is_dynamic"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size"`
}

// Definition is the decoded super_def.*.json manifest.
type Definition struct {
	DeviceSize   int64       `json:"device_size"`
	MetadataSize int64       `json:"metadata_size"`
	BlockSize    int64       `json:"block_size"`
	VirtualAB    bool        `json:"virtual_ab"`
	SparseImage  string      `json:"sparse_image,omitempty"`
	Groups       []Group     `json:"groups"`
	Partitions   []Partition `json:"partitions"`
}

// ParseDefinition decodes a super_def.*.json file read through fs.
func ParseDefinition(fs afero.Fs, path string) (*Definition, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("superimage: read %s: %w", path, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("superimage: parse %s: %w", path, err)
	}
	return &def, nil
}

// Runner invokes the external lpmake/simg2img binaries. Tests substitute
// a fake that records the argv it was given instead of execing anything.
type Runner interface {
	Run(workDir, name string, args []string) error
}

// execRunner shells out for real via os/exec.
type execRunner struct{}

func (execRunner) Run(workDir, name string, args []string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("superimage: %s: %w: %s", name, err, out)
	}
	return nil
}

// DefaultRunner execs lpmake/simg2img for real.
func DefaultRunner() Runner { return execRunner{} }

// Builder composes a super.img from a parsed Definition. metaDir is the
// directory containing super_def.*.json; lpmake runs with its parent as
// the working directory.
type Builder struct {
	Runner Runner
}

// NewBuilder returns a Builder that execs the real tools.
func NewBuilder() *Builder { return &Builder{Runner: DefaultRunner()} }

// Build desparsifies def.SparseImage via simg2img when present, then
// invokes lpmake with the flags needed to compose IMAGES/super.img.
// metaDir is the package's META directory.
func (b *Builder) Build(metaDir string, def *Definition) error {
	workDir := filepath.Dir(metaDir)

	if def.SparseImage != "" {
		desparsified := def.SparseImage + ".raw"
		if err := b.Runner.Run(workDir, "simg2img", []string{def.SparseImage, desparsified}); err != nil {
			return err
		}
	}

	args := lpmakeArgs(def)
	return b.Runner.Run(workDir, "lpmake", args)
}

// lpmakeArgs builds the lpmake argv.
func lpmakeArgs(def *Definition) []string {
	args := []string{
		"--device-size", strconv.FormatInt(def.DeviceSize, 10),
		"--metadata-size", strconv.FormatInt(def.MetadataSize, 10),
		"--metadata-slots", strconv.Itoa(len(def.Groups)),
		"--super-name", "super",
		"--block-size", strconv.FormatInt(def.BlockSize, 10),
		"--sparse",
	}
	if def.VirtualAB {
		args = append(args, "--virtual-ab")
	}

	for _, g := range def.Groups {
		if g.MaximumSize > 0 {
			args = append(args, "--group", fmt.Sprintf("%s:%d", g.Name, g.MaximumSize))
		}
	}

	for _, p := range def.Partitions {
		if p.Size > 0 {
			args = append(args, "--partition", fmt.Sprintf("%s:readonly:%d:%s", p.Name, p.Size, p.Group))
			if p.Path != "" {
				args = append(args, "--image", fmt.Sprintf("%s=%s", p.Name, p.Path))
			}
		} else {
			args = append(args, "--partition", fmt.Sprintf("%s:none:0:%s", p.Name, p.Group))
		}
	}

	args = append(args, "-F", "--output", filepath.Join("IMAGES", "super.img"))
	return args
}
