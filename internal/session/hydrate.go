package session

import "context"

// Hydrate assembles the client-facing session state for a user across the
// given categories. The shape is flat so clients can bind it directly:
//
//	{
//	    "<category>_not_cloned": <distinct samples awaiting clone>,
//	    "cloning_in_progress": {"<category>": bool, ...},
//	    "cloning_status": {"<category>": "idle"|"cloning"|"completed"|"failed", ...}
//	}
//
// A category reads as completed only while its completion record is
// retained; after the retention window it decays back to idle.
func (t *Tracker) Hydrate(ctx context.Context, userID string, categories []string) (map[string]any, error) {
	inProgress := make(map[string]bool, len(categories))
	statuses := make(map[string]string, len(categories))
	out := make(map[string]any, len(categories)+2)

	for _, category := range categories {
		count, err := t.store.Count(ctx, userID, category)
		if err != nil {
			return nil, err
		}
		out[category+"_not_cloned"] = count

		locked, err := t.store.Locked(ctx, userID, category)
		if err != nil {
			return nil, err
		}
		inProgress[category] = locked

		switch {
		case locked:
			statuses[category] = StatusCloning
		default:
			rec, err := t.Completion(ctx, userID, category)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				statuses[category] = StatusCompleted
			} else {
				statuses[category] = StatusIdle
			}
		}
	}

	out["cloning_in_progress"] = inProgress
	out["cloning_status"] = statuses
	return out, nil
}
