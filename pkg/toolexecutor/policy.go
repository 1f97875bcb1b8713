package toolexecutor

// Policy is an allow/deny list layered on top of the registry mode gate.
// Deny entries override allow entries; "*" matches every tool.
type Policy struct {
	Allow []string `json:"allow"`
	Deny  []string `json:"deny"`
}

// Allows reports whether the policy admits the tool. A nil policy admits
// everything. An empty allow list admits every tool not denied.
func (p *Policy) Allows(name string) bool {
	if p == nil {
		return true
	}

	for _, denied := range p.Deny {
		if denied == name || denied == "*" {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, allowed := range p.Allow {
		if allowed == name || allowed == "*" {
			return true
		}
	}
	return false
}
