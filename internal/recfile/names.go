package recfile

import "golang.org/x/text/unicode/norm"

// Identifiers are compared in NFC so that composed and decomposed spellings
// of the same name refer to one declaration.
func canonName(s string) string {
	return norm.NFC.String(s)
}

func canonNames(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[canonName(k)] = v
	}
	return out
}

// canonicalize rewrites every identifier and type expression in doc to NFC.
func (doc *fileDoc) canonicalize() {
	for i := range doc.Enums {
		doc.Enums[i].Name = canonName(doc.Enums[i].Name)
	}
	for i := range doc.Records {
		rd := &doc.Records[i]
		rd.Name = canonName(rd.Name)
		for j := range rd.Bases {
			rd.Bases[j].Name = canonName(rd.Bases[j].Name)
		}
		for j := range rd.Fields {
			rd.Fields[j].Name = canonName(rd.Fields[j].Name)
			rd.Fields[j].Type = canonName(rd.Fields[j].Type)
		}
		for j := range rd.Methods {
			md := &rd.Methods[j]
			md.Name = canonName(md.Name)
			for k := range md.Overrides {
				md.Overrides[k] = canonName(md.Overrides[k])
			}
		}
		if rd.Expect != nil {
			rd.Expect.Bases = canonNames(rd.Expect.Bases)
			rd.Expect.VBases = canonNames(rd.Expect.VBases)
		}
	}
}
