package auth

import "reviewflow/request"

// Facts expands a role into the boolean facts the request lifecycle engine
// gates transitions on. The engine never looks at tokens or users directly;
// this is the only bridge between authentication and the workflow.
func Facts(role Role) request.RoleFacts {
	return request.RoleFacts{
		IsSubmitter:        role == RoleSubmitter,
		IsLegalAdmin:       role == RoleLegalAdmin,
		IsAttorneyAssigner: role == RoleAttorneyAssigner,
		IsAttorney:         role == RoleAttorney,
		IsComplianceUser:   role == RoleCompliance,
		IsAdmin:            role == RoleAdmin,
	}
}
