package model

// RawFiling is one row of the portal's document search CSV export, before
// identity resolution. Column headers match the export format.
type RawFiling struct {
	IssuerID         string `csv:"Issuer Number"`
	DocumentIdentity string `csv:"Document GUID"`
	FilingType       string `csv:"Filing Type"`
	DocumentType     string `csv:"Document Type"`
	DateFiled        string `csv:"Date Filed"`
	URL              string `csv:"Generate URL"`
	SizeBytes        int64  `csv:"Size,omitempty"`
	AmendmentFlag    string `csv:"Amendment,omitempty"`
}

// FiledOn parses the row's filing date.
func (r *RawFiling) FiledOn() (Date, error) {
	return ParseDate(r.DateFiled)
}

// IsAmendment reports whether the source marked this row as an explicit
// amendment. The export has no dedicated column today; when the portal adds
// one this becomes the primary amendment signal and the resolver's field
// comparison becomes the fallback.
func (r *RawFiling) IsAmendment() bool {
	switch r.AmendmentFlag {
	case "Y", "y", "true", "1":
		return true
	}
	return false
}

// RawIssuer is one row of the portal's reporting issuers CSV export.
type RawIssuer struct {
	IssuerID     string `csv:"Issuer Number"`
	Name         string `csv:"Name"`
	Jurisdiction string `csv:"Jurisdiction(s)"`
	Type         string `csv:"Type"`
	InDefault    string `csv:"In Default Flag"`
	ActiveCTO    string `csv:"Active CTO Flag"`
}

// Record converts the CSV row into an IssuerRecord without timestamps; the
// sink stamps FirstSeen/LastSeen on upsert.
func (r *RawIssuer) Record() IssuerRecord {
	return IssuerRecord{
		IssuerID:          r.IssuerID,
		Name:              r.Name,
		Jurisdiction:      r.Jurisdiction,
		Type:              r.Type,
		InDefault:         flagSet(r.InDefault),
		ActiveRestriction: flagSet(r.ActiveCTO),
	}
}

func flagSet(s string) bool {
	switch s {
	case "Y", "y", "true", "True", "1":
		return true
	}
	return false
}
