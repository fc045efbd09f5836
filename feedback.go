package datavault

import (
	"context"

	"github.com/poiesic/datavault/core"
	"github.com/poiesic/datavault/storage"
)

// FeedbackRepository stores per-prediction feedback.
type FeedbackRepository struct {
	v *Vault
}

// Create stores f. A second feedback for the same prediction id fails with
// core.ErrDuplicatePrediction.
func (r *FeedbackRepository) Create(ctx context.Context, f *core.Feedback) (*core.Feedback, error) {
	rec, err := core.CanonicalizeFeedback(f)
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = core.Now()
	}
	if err := r.v.do(ctx, "feedback.create", func(ctx context.Context, a storage.Adapter) error {
		return a.CreateFeedback(ctx, rec)
	}); err != nil {
		return nil, err
	}
	return core.FeedbackFromRecord(rec)
}

func (r *FeedbackRepository) Get(ctx context.Context, id string) (*core.Feedback, error) {
	var out *core.Feedback
	err := r.v.do(ctx, "feedback.get", func(ctx context.Context, a storage.Adapter) error {
		rec, err := a.GetFeedback(ctx, id)
		if err != nil {
			return err
		}
		out, err = core.FeedbackFromRecord(rec)
		return err
	})
	return out, err
}

// List returns feedback newest first.
func (r *FeedbackRepository) List(ctx context.Context, opts ListOptions) ([]*core.Feedback, error) {
	var out []*core.Feedback
	err := r.v.do(ctx, "feedback.list", func(ctx context.Context, a storage.Adapter) error {
		recs, err := a.ListFeedback(ctx, opts)
		if err != nil {
			return err
		}
		out = make([]*core.Feedback, 0, len(recs))
		for _, rec := range recs {
			fb, err := core.FeedbackFromRecord(rec)
			if err != nil {
				return err
			}
			out = append(out, fb)
		}
		return nil
	})
	return out, err
}

// Update replaces a feedback record.
func (r *FeedbackRepository) Update(ctx context.Context, f *core.Feedback) (*core.Feedback, error) {
	rec, err := core.CanonicalizeFeedback(f)
	if err != nil {
		return nil, err
	}
	var out *core.Feedback
	err = r.v.do(ctx, "feedback.update", func(ctx context.Context, a storage.Adapter) error {
		if err := a.UpdateFeedback(ctx, rec); err != nil {
			return err
		}
		stored, err := a.GetFeedback(ctx, rec.ID)
		if err != nil {
			return err
		}
		out, err = core.FeedbackFromRecord(stored)
		return err
	})
	return out, err
}

func (r *FeedbackRepository) Delete(ctx context.Context, id string) error {
	return r.v.do(ctx, "feedback.delete", func(ctx context.Context, a storage.Adapter) error {
		return a.DeleteFeedback(ctx, id)
	})
}

// Accuracy summarizes feedback for one model on one dataset.
type Accuracy struct {
	Total   int
	Correct int
}

// Rate returns Correct/Total, or 0 without feedback.
func (a Accuracy) Rate() float64 {
	if a.Total == 0 {
		return 0
	}
	return float64(a.Correct) / float64(a.Total)
}

// Accuracy tallies the dataset's feedback per model id.
func (r *FeedbackRepository) Accuracy(ctx context.Context, datasetID string) (map[string]Accuracy, error) {
	if !core.IsValidID(datasetID) {
		return nil, &core.ValidationError{Field: "DatasetID", Reason: "invalid id"}
	}
	items, err := r.List(ctx, ListOptions{DatasetID: datasetID})
	if err != nil {
		return nil, err
	}
	out := make(map[string]Accuracy)
	for _, fb := range items {
		acc := out[fb.ModelID]
		acc.Total++
		if fb.IsCorrect {
			acc.Correct++
		}
		out[fb.ModelID] = acc
	}
	return out, nil
}
