package configtx

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Txlator shells out to a configtxlator binary. Every call works in its own
// scratch directory, which is removed before the call returns.
type Txlator struct {
	Binary string
	// TempDir is the parent of the scratch directories; empty means os.TempDir.
	TempDir string

	logger *log.Logger
}

func NewTxlator(binary string, logger *log.Logger) *Txlator {
	return &Txlator{Binary: binary, logger: logger}
}

func (t *Txlator) Encode(doc Snapshot, schema SchemaType) ([]byte, error) {
	dir, err := t.scratch()
	if err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}
	defer t.cleanup(dir)

	return t.encodeIn(dir, "input", doc, schema)
}

func (t *Txlator) Decode(data []byte, schema SchemaType) (Snapshot, error) {
	dir, err := t.scratch()
	if err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}
	defer t.cleanup(dir)

	input := filepath.Join(dir, "input.pb")
	output := filepath.Join(dir, "output.json")
	if err := ioutil.WriteFile(input, data, 0o600); err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}
	if err := t.run("proto_decode", "--input="+input, "--type="+schema.String(), "--output="+output); err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}

	raw, err := ioutil.ReadFile(output)
	if err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}
	doc, err := NewSnapshot(raw)
	if err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}
	return doc, nil
}

func (t *Txlator) ComputeUpdate(channel string, schema SchemaType, original, modified Snapshot) ([]byte, error) {
	if !schema.is(SchemaConfig) {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: errors.New("updates can only be computed between common.Config documents")}
	}

	dir, err := t.scratch()
	if err != nil {
		return nil, &fab.EncodingError{Schema: SchemaConfigUpdate.String(), Err: err}
	}
	defer t.cleanup(dir)

	if _, err := t.encodeIn(dir, "original", original, schema); err != nil {
		return nil, err
	}
	if _, err := t.encodeIn(dir, "modified", modified, schema); err != nil {
		return nil, err
	}

	output := filepath.Join(dir, "update.pb")
	err = t.run("compute_update",
		"--channel_id="+channel,
		"--original="+filepath.Join(dir, "original.pb"),
		"--updated="+filepath.Join(dir, "modified.pb"),
		"--output="+output,
	)
	if err != nil {
		return nil, &fab.EncodingError{Schema: SchemaConfigUpdate.String(), Err: err}
	}

	update, err := ioutil.ReadFile(output)
	if err != nil {
		return nil, &fab.EncodingError{Schema: SchemaConfigUpdate.String(), Err: err}
	}
	return update, nil
}

// encodeIn writes doc to <dir>/<name>.json and encodes it to <dir>/<name>.pb.
func (t *Txlator) encodeIn(dir, name string, doc Snapshot, schema SchemaType) ([]byte, error) {
	raw, err := doc.Bytes()
	if err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}

	input := filepath.Join(dir, name+".json")
	output := filepath.Join(dir, name+".pb")
	if err := ioutil.WriteFile(input, raw, 0o600); err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}
	if err := t.run("proto_encode", "--input="+input, "--type="+schema.String(), "--output="+output); err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}

	data, err := ioutil.ReadFile(output)
	if err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}
	return data, nil
}

func (t *Txlator) run(args ...string) error {
	cmd := exec.Command(t.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s %s: %s", filepath.Base(t.Binary), args[0], out)
	}
	t.logger.WithField("command", args[0]).Debug("configtxlator finished")
	return nil
}

func (t *Txlator) scratch() (string, error) {
	dir, err := ioutil.TempDir(t.TempDir, "configtxlator-")
	return dir, errors.Wrap(err, "failed to create scratch directory")
}

func (t *Txlator) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		t.logger.WithError(err).WithField("dir", dir).Warn("Failed to remove scratch directory")
	}
}
