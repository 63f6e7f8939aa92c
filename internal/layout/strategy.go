package layout

// strategy lays out one record whose bases and field types are resolved.
type strategy interface {
	abi() ABI
	layout(env *buildEnv) *RecordLayout
}

func strategyFor(abi ABI) strategy {
	if abi == ABIMicrosoft {
		return microsoftStrategy{}
	}
	return itaniumStrategy{}
}

type itaniumStrategy struct{}

func (itaniumStrategy) abi() ABI { return ABIItanium }

func (itaniumStrategy) layout(env *buildEnv) *RecordLayout {
	b := newItaniumBuilder(env)
	if env.cxx() {
		b.layoutCXX()
	} else {
		b.layoutC()
	}
	return b.result()
}

type microsoftStrategy struct{}

func (microsoftStrategy) abi() ABI { return ABIMicrosoft }

func (microsoftStrategy) layout(env *buildEnv) *RecordLayout {
	b := newMicrosoftBuilder(env)
	if env.cxx() {
		b.cxxLayout()
	} else {
		b.cLayout()
	}
	return b.result()
}
