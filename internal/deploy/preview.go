package deploy

// Preview is the operator-facing summary of a deployment. The same value
// feeds the confirmation prompt and the audit record so the two always
// agree.
type Preview struct {
	Name           string
	Kind           Kind
	VersionLabel   string
	CollectionName string
	CollectionID   string
	MemberCount    int
}

// BuildPreview projects a resolved deployable and collection. It has no
// side effects.
func BuildPreview(d *Deployable, c *Collection) Preview {
	var p Preview
	if d != nil {
		p.Name = d.DisplayName
		p.Kind = d.Kind
		p.VersionLabel = d.VersionLabel()
	}
	if c != nil {
		p.CollectionName = c.Name
		p.CollectionID = c.ID
		p.MemberCount = c.MemberCount
	}
	return p
}
