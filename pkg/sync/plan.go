package sync

import (
	"fmt"
	"sort"

	"attachment-sync/pkg/models"
	"attachment-sync/pkg/utils"
)

// EntryRef is one (record, field) decision scheduled for execution, resolved
// to a concrete local filename where one exists.
type EntryRef struct {
	RecordID int64
	Field    string
	Decision *models.FieldDecision

	// Target is the local filename this entry owns: the record-id-prefixed
	// value for keep/none, the state record's stored name for delete. Empty
	// for delete entries without usable prior state.
	Target string

	// State is the preloaded state record (delete entries only).
	State *models.AttachmentState

	// PlanErr marks a duplicate-name collision detected while claiming
	// names. The entry is reported as an error and never touches the file
	// owned by the first claimant.
	PlanErr error
}

// Plan fixes the run's name sets before any download starts. The sets stay
// stable for the whole run, which is what makes the concurrent orphan sweep
// safe without locking: every file the executor creates is in KeepNames, so
// the sweeper never considers it.
type Plan struct {
	Entries     []EntryRef
	KeepNames   map[string]struct{}
	DeleteNames map[string]struct{}
	NoneNames   map[string]struct{}
}

// AccountedNames returns keep ∪ delete: the files the executor owns.
func (p *Plan) AccountedNames() map[string]struct{} {
	out := make(map[string]struct{}, len(p.KeepNames)+len(p.DeleteNames))
	for n := range p.KeepNames {
		out[n] = struct{}{}
	}
	for n := range p.DeleteNames {
		out[n] = struct{}{}
	}
	return out
}

// BuildPlan walks the action map in deterministic order (records ascending,
// fields lexicographic) and claims target filenames. First claim wins; later
// collisions become per-entry plan errors.
func (e *Executor) BuildPlan(am *models.ActionMap) *Plan {
	plan := &Plan{
		KeepNames:   make(map[string]struct{}),
		DeleteNames: make(map[string]struct{}),
		NoneNames:   make(map[string]struct{}),
	}

	recordIDs := make([]int64, 0, len(am.Records))
	for id := range am.Records {
		recordIDs = append(recordIDs, id)
	}
	sort.Slice(recordIDs, func(i, j int) bool { return recordIDs[i] < recordIDs[j] })

	for _, recID := range recordIDs {
		ra := am.Records[recID]

		fields := make([]string, 0, len(ra.Fields))
		for f := range ra.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			d := ra.Fields[field]
			entry := EntryRef{RecordID: recID, Field: field, Decision: d}

			switch d.Action {
			case models.ActionKeep:
				name := models.TargetFilename(recID, d.Value)
				entry.Target = name
				if _, dup := plan.KeepNames[name]; dup {
					entry.PlanErr = fmt.Errorf("%w: keep target '%s' already claimed (record %d field '%s')",
						utils.ErrDuplicateName, name, recID, field)
				} else {
					plan.KeepNames[name] = struct{}{}
				}

			case models.ActionDelete:
				st, err := e.store.Load(e.assetUID, recID, field)
				if err != nil {
					entry.PlanErr = err
					break
				}
				if st == nil {
					// Cannot confidently identify the file in this phase;
					// the orphan sweeper owns anything left behind.
					break
				}
				name := st.ImageName
				if _, dup := plan.KeepNames[name]; dup {
					entry.PlanErr = fmt.Errorf("%w: delete target '%s' collides with a claimed keep (record %d field '%s')",
						utils.ErrDuplicateName, name, recID, field)
					break
				}
				if _, dup := plan.DeleteNames[name]; dup {
					entry.PlanErr = fmt.Errorf("%w: delete target '%s' already claimed (record %d field '%s')",
						utils.ErrDuplicateName, name, recID, field)
					break
				}
				entry.Target = name
				entry.State = st
				plan.DeleteNames[name] = struct{}{}

			case models.ActionNone:
				name := models.TargetFilename(recID, d.Value)
				entry.Target = name
				plan.NoneNames[name] = struct{}{}
			}

			plan.Entries = append(plan.Entries, entry)
		}
	}

	return plan
}
