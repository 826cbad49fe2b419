package broker

import "aula"

// ComputeProposal builds the allocation plan for a request against the
// current free counts. Lab shortfall is covered by free classrooms
// adapted as mobile labs, but only with classrooms left over after the
// plain classroom grant.
func ComputeProposal(clsFree, labFree, reqClass, reqLab int) aula.Proposal {
	labs := min(reqLab, labFree)
	deficit := reqLab - labs
	cls := min(reqClass, clsFree)
	mobile := min(deficit, max(0, clsFree-cls))
	return aula.Proposal{
		Salones:      cls,
		Laboratorios: labs,
		AulasMoviles: mobile,
	}
}
