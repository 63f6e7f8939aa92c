package layout

import "reclayout/internal/decl"

type subobjectID int32

const noSubobject subobjectID = -1

// baseSubobject is one base class subobject of the record being laid out.
// Every virtual base has exactly one node, shared by all paths reaching it.
type baseSubobject struct {
	class   decl.RecordID
	virtual bool
	bases   []subobjectID
	// primaryVirtualBase is the primary virtual base this subobject claimed.
	primaryVirtualBase subobjectID
	// derived is the subobject that claimed this node as its primary
	// virtual base, if any.
	derived subobjectID
}

// subobjectGraph stores base subobject nodes by index.
type subobjectGraph struct {
	env          *buildEnv
	nodes        []baseSubobject
	virtualBases map[decl.RecordID]subobjectID
	nonVirtual   map[decl.RecordID]subobjectID
}

func newSubobjectGraph(env *buildEnv) *subobjectGraph {
	g := &subobjectGraph{
		env:          env,
		virtualBases: make(map[decl.RecordID]subobjectID, 4),
		nonVirtual:   make(map[decl.RecordID]subobjectID, len(env.rec.Bases)),
	}
	for _, b := range env.rec.Bases {
		n := g.build(b.Record, b.Virtual)
		if !b.Virtual {
			g.nonVirtual[b.Record] = n
		}
	}
	return g
}

func (g *subobjectGraph) node(id subobjectID) *baseSubobject { return &g.nodes[id] }

func (g *subobjectGraph) build(class decl.RecordID, virtual bool) subobjectID {
	if virtual {
		if id, ok := g.virtualBases[class]; ok {
			return id
		}
	}
	id := subobjectID(len(g.nodes))
	g.nodes = append(g.nodes, baseSubobject{
		class:              class,
		virtual:            virtual,
		primaryVirtualBase: noSubobject,
		derived:            noSubobject,
	})
	if virtual {
		g.virtualBases[class] = id
	}

	primaryVBase := decl.NoRecordID
	primaryInfo := noSubobject
	if g.env.decls().NumVirtualBases(class) > 0 {
		l := g.env.layout(class)
		if l.PrimaryBaseIsVirtual {
			primaryVBase = l.PrimaryBase
			if existing, ok := g.virtualBases[primaryVBase]; ok {
				primaryInfo = existing
				if g.nodes[existing].derived != noSubobject {
					// Already claimed through another path.
					primaryVBase = decl.NoRecordID
				} else {
					g.nodes[id].primaryVirtualBase = existing
					g.nodes[existing].derived = id
				}
			}
		}
	}

	rec := g.env.decls().MustRecord(class)
	for _, b := range rec.Bases {
		child := g.build(b.Record, b.Virtual)
		g.nodes[id].bases = append(g.nodes[id].bases, child)
	}

	if primaryVBase != decl.NoRecordID && primaryInfo == noSubobject {
		if claimed, ok := g.virtualBases[primaryVBase]; ok {
			g.nodes[id].primaryVirtualBase = claimed
			g.nodes[claimed].derived = id
		}
	}
	return id
}
