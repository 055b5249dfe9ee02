// Package projection implements C10, the role-filtered case projection:
// one shape in (model.Case), role-specific shape out (model.CaseView),
// the same transform-on-emit pattern the teacher's pkg/model/create uses
// to turn one UniversalModelData into a per-provider request shape.
package projection

import "github.com/clinround/sessioncore/pkg/model"

// ForRole computes the subset of case content visible to role (§4.10).
// Every role gets the description, notes, image reference and feedback
// criteria. DOCTOR also gets the doctor-facing sections but never Title;
// PATIENT and OBSERVER also get Title and the patient-facing sections but
// not the doctor-facing ones. The untrimmed Case is
// never returned to a caller that publishes to a shared topic — callers
// must go through this function first.
func ForRole(c model.Case, role model.Role) model.CaseView {
	view := model.CaseView{
		Description:      c.Description,
		Notes:            c.Notes,
		ImageRef:         c.ImageRef,
		FeedbackCriteria: c.FeedbackCriteria,
	}

	switch role {
	case model.Doctor:
		view.DoctorSections = c.DoctorSections
	default: // PATIENT, OBSERVER
		view.Title = c.Title
		view.PatientSections = c.PatientSections
	}

	return view
}
