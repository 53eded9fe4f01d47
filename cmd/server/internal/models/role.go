package models

// Role 组织内角色，OWNER > ADMIN > EDITOR > VIEWER
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Valid 是否为已知角色
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast 判断角色是否不低于阈值；未知角色一律返回 false
func (r Role) AtLeast(threshold Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	need, ok := roleRank[threshold]
	if !ok {
		return false
	}
	return have >= need
}
