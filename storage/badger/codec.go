// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"errors"
	"fmt"
	"math"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/datavault/core"
)

// codecVersion prefixes every stored document.
const codecVersion uint64 = 1

var errUnknownVersion = errors.New("unknown document version")

// sink receives document fields. The same write function first runs against
// a sizer, then against a writer with an exactly sized buffer.
type sink interface {
	str(v string)
	i64(v int64)
	u64(v uint64)
	boolean(v bool)
}

type sizer struct{ n int }

func (s *sizer) str(v string) { s.n += ord.String.Size(v) }
func (s *sizer) i64(v int64) { s.n += varint.Int64.Size(v) }
func (s *sizer) u64(v uint64) { s.n += varint.Uint64.Size(v) }
func (s *sizer) boolean(v bool) { s.n += ord.Bool.Size(v) }

type writer struct {
	bs  []byte
	off int
}

func (w *writer) str(v string) { w.off += ord.String.Marshal(v, w.bs[w.off:]) }
func (w *writer) i64(v int64) { w.off += varint.Int64.Marshal(v, w.bs[w.off:]) }
func (w *writer) u64(v uint64) { w.off += varint.Uint64.Marshal(v, w.bs[w.off:]) }
func (w *writer) boolean(v bool) { w.off += ord.Bool.Marshal(v, w.bs[w.off:]) }

func marshal(write func(s sink)) []byte {
	var sz sizer
	sz.u64(codecVersion)
	write(&sz)
	w := &writer{bs: make([]byte, sz.n)}
	w.u64(codecVersion)
	write(w)
	return w.bs
}

// reader decodes fields in order and keeps the first error.
type reader struct {
	bs  []byte
	off int
	err error
}

func newReader(bs []byte) *reader {
	r := &reader{bs: bs}
	if v := r.u64(); r.err == nil && v != codecVersion {
		r.err = fmt.Errorf("%w: %d", errUnknownVersion, v)
	}
	return r
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.off:])
	r.off += n
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.off:])
	r.off += n
	r.err = err
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.off:])
	r.off += n
	r.err = err
	return v
}

func (r *reader) boolean() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.off:])
	r.off += n
	r.err = err
	return v
}

func (r *reader) bytes() []byte {
	if s := r.str(); s != "" {
		return []byte(s)
	}
	return nil
}

func (r *reader) f64() float64 { return math.Float64frombits(r.u64()) }

func (r *reader) done(what string) error {
	if r.err != nil {
		return fmt.Errorf("%w: decoding %s: %v", core.ErrConstraintViolation, what, r.err)
	}
	return nil
}

// Stored documents carry the record's insertion sequence so index entries
// can be removed without a scan.

type datasetDoc struct {
	seq uint64
	rec *core.DatasetRecord
}

func marshalDataset(seq uint64, d *core.DatasetRecord) []byte {
	return marshal(func(s sink) {
		s.u64(seq)
		s.str(d.ID)
		s.str(d.Name)
		s.i64(d.RowCount)
		s.i64(int64(d.ColumnCount))
		s.str(d.ColumnsJSON)
		s.str(d.ColumnTypesJSON)
		s.str(d.PreviewJSON)
		s.str(string(d.StorageType))
		s.str(string(d.Data))
		s.str(d.BlobID)
		s.i64(d.TrainingCount)
		s.i64(core.UnixMicro(d.LastTrainedAt))
		s.i64(core.UnixMicro(d.CreatedAt))
		s.i64(core.UnixMicro(d.UpdatedAt))
	})
}

func unmarshalDataset(bs []byte) (*datasetDoc, error) {
	r := newReader(bs)
	doc := &datasetDoc{seq: r.u64(), rec: &core.DatasetRecord{}}
	d := doc.rec
	d.ID = r.str()
	d.Name = r.str()
	d.RowCount = r.i64()
	d.ColumnCount = int(r.i64())
	d.ColumnsJSON = r.str()
	d.ColumnTypesJSON = r.str()
	d.PreviewJSON = r.str()
	d.StorageType = core.StorageType(r.str())
	d.Data = r.bytes()
	d.BlobID = r.str()
	d.TrainingCount = r.i64()
	d.LastTrainedAt = core.FromUnixMicro(r.i64())
	d.CreatedAt = core.FromUnixMicro(r.i64())
	d.UpdatedAt = core.FromUnixMicro(r.i64())
	return doc, r.done("dataset")
}

type workspaceDoc struct {
	seq uint64
	rec *core.WorkspaceRecord
}

func marshalWorkspace(seq uint64, w *core.WorkspaceRecord) []byte {
	return marshal(func(s sink) {
		s.u64(seq)
		s.str(w.ID)
		s.str(w.DatasetID)
		s.str(w.Name)
		s.str(string(w.StorageType))
		s.str(string(w.State))
		s.str(w.BlobID)
		s.i64(core.UnixMicro(w.CreatedAt))
		s.i64(core.UnixMicro(w.UpdatedAt))
	})
}

func unmarshalWorkspace(bs []byte) (*workspaceDoc, error) {
	r := newReader(bs)
	doc := &workspaceDoc{seq: r.u64(), rec: &core.WorkspaceRecord{}}
	w := doc.rec
	w.ID = r.str()
	w.DatasetID = r.str()
	w.Name = r.str()
	w.StorageType = core.StorageType(r.str())
	w.State = r.bytes()
	w.BlobID = r.str()
	w.CreatedAt = core.FromUnixMicro(r.i64())
	w.UpdatedAt = core.FromUnixMicro(r.i64())
	return doc, r.done("workspace")
}

type trainingDoc struct {
	seq uint64
	rec *core.TrainingRecord
}

func marshalTraining(seq uint64, m *core.TrainingRecord) []byte {
	return marshal(func(s sink) {
		s.u64(seq)
		s.str(m.ID)
		s.str(m.DatasetID)
		s.str(m.ModelID)
		s.str(m.ProblemType)
		s.str(m.TargetColumn)
		s.str(m.FeatureColumnsJSON)
		s.str(m.MetricsJSON)
		s.str(m.HyperparametersJSON)
		s.u64(math.Float64bits(m.DurationSeconds))
		s.i64(core.UnixMicro(m.TrainedAt))
		s.i64(core.UnixMicro(m.CreatedAt))
	})
}

func unmarshalTraining(bs []byte) (*trainingDoc, error) {
	r := newReader(bs)
	doc := &trainingDoc{seq: r.u64(), rec: &core.TrainingRecord{}}
	m := doc.rec
	m.ID = r.str()
	m.DatasetID = r.str()
	m.ModelID = r.str()
	m.ProblemType = r.str()
	m.TargetColumn = r.str()
	m.FeatureColumnsJSON = r.str()
	m.MetricsJSON = r.str()
	m.HyperparametersJSON = r.str()
	m.DurationSeconds = r.f64()
	m.TrainedAt = core.FromUnixMicro(r.i64())
	m.CreatedAt = core.FromUnixMicro(r.i64())
	return doc, r.done("training metadata")
}

type feedbackDoc struct {
	seq uint64
	rec *core.FeedbackRecord
}

func marshalFeedback(seq uint64, f *core.FeedbackRecord) []byte {
	return marshal(func(s sink) {
		s.u64(seq)
		s.str(f.ID)
		s.str(f.PredictionID)
		s.str(f.DatasetID)
		s.str(f.ModelID)
		s.boolean(f.IsCorrect)
		s.str(f.PredictedJSON)
		s.str(f.ActualJSON)
		s.str(f.Comment)
		s.i64(core.UnixMicro(f.CreatedAt))
	})
}

func unmarshalFeedback(bs []byte) (*feedbackDoc, error) {
	r := newReader(bs)
	doc := &feedbackDoc{seq: r.u64(), rec: &core.FeedbackRecord{}}
	f := doc.rec
	f.ID = r.str()
	f.PredictionID = r.str()
	f.DatasetID = r.str()
	f.ModelID = r.str()
	f.IsCorrect = r.boolean()
	f.PredictedJSON = r.str()
	f.ActualJSON = r.str()
	f.Comment = r.str()
	f.CreatedAt = core.FromUnixMicro(r.i64())
	return doc, r.done("feedback")
}

func marshalBlob(b *core.BlobRecord) []byte {
	return marshal(func(s sink) {
		s.str(b.ID)
		s.str(string(b.OwnerKind))
		s.str(b.OwnerID)
		s.i64(b.Size)
		s.boolean(b.Compressed)
		s.i64(b.OriginalSize)
		s.str(b.ContentType)
		s.str(b.Digest)
		s.i64(int64(b.ChunkCount))
		s.i64(core.UnixMicro(b.CreatedAt))
	})
}

func unmarshalBlob(bs []byte) (*core.BlobRecord, error) {
	r := newReader(bs)
	b := &core.BlobRecord{}
	b.ID = r.str()
	b.OwnerKind = core.EntityKind(r.str())
	b.OwnerID = r.str()
	b.Size = r.i64()
	b.Compressed = r.boolean()
	b.OriginalSize = r.i64()
	b.ContentType = r.str()
	b.Digest = r.str()
	b.ChunkCount = int(r.i64())
	b.CreatedAt = core.FromUnixMicro(r.i64())
	return b, r.done("blob metadata")
}

func marshalID(id string) []byte {
	return marshal(func(s sink) { s.str(id) })
}

func unmarshalID(bs []byte) (string, error) {
	r := newReader(bs)
	id := r.str()
	return id, r.done("index entry")
}

func marshalTime(us int64) []byte {
	return marshal(func(s sink) { s.i64(us) })
}

func unmarshalTime(bs []byte) (int64, error) {
	r := newReader(bs)
	us := r.i64()
	return us, r.done("pending marker")
}
