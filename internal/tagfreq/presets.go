package tagfreq

// POSPreset groups Penn Treebank tags by word class. Keys are matched as
// substrings, so "NN" covers NN, NNS, NNP and NNPS.
func POSPreset() Grouping {
	return Grouping{
		{Label: "Noun (NN)", Keys: []string{"NN"}},
		{Label: "Verb (VB)", Keys: []string{"VB"}},
		{Label: "Adjective (JJ)", Keys: []string{"JJ"}},
		{Label: "Pronoun (PRP)", Keys: []string{"PRP"}},
		{Label: "Preposition (IN)", Keys: []string{"IN"}},
		{Label: "Determiner (DT)", Keys: []string{"DT"}},
	}
}

// DepPreset groups Universal Dependencies relations into constructions.
func DepPreset() Grouping {
	return Grouping{
		{Label: "Passive", Keys: []string{"pass"}},
		{Label: "Compound", Keys: []string{"compound", "flat"}},
		{Label: "Clause", Keys: []string{"advcl", "ccomp", "acl"}},
		{Label: "Coordination", Keys: []string{"conj", "cc"}},
		{Label: "Modifier", Keys: []string{"amod", "advmod"}},
	}
}

// USASPreset lists the 21 USAS major discourse fields.
func USASPreset() Grouping {
	return Grouping{
		{Label: "A General and abstract terms", Keys: []string{"A"}},
		{Label: "B The body and the individual", Keys: []string{"B"}},
		{Label: "C Arts and crafts", Keys: []string{"C"}},
		{Label: "E Emotion", Keys: []string{"E"}},
		{Label: "F Food and farming", Keys: []string{"F"}},
		{Label: "G Government and the public", Keys: []string{"G"}},
		{Label: "H Architecture, housing and the home", Keys: []string{"H"}},
		{Label: "I Money and commerce", Keys: []string{"I"}},
		{Label: "K Entertainment, sports and games", Keys: []string{"K"}},
		{Label: "L Life and living things", Keys: []string{"L"}},
		{Label: "M Movement, location, travel and transport", Keys: []string{"M"}},
		{Label: "N Numbers and measurement", Keys: []string{"N"}},
		{Label: "O Substances, materials, objects and equipment", Keys: []string{"O"}},
		{Label: "P Education", Keys: []string{"P"}},
		{Label: "Q Linguistic actions, states and processes", Keys: []string{"Q"}},
		{Label: "S Social actions, states and processes", Keys: []string{"S"}},
		{Label: "T Time", Keys: []string{"T"}},
		{Label: "W World and environment", Keys: []string{"W"}},
		{Label: "X Psychological actions, states and processes", Keys: []string{"X"}},
		{Label: "Y Science and technology", Keys: []string{"Y"}},
		{Label: "Z Names and grammar", Keys: []string{"Z"}},
	}
}

// Preset returns the built-in grouping for d.
func Preset(d Dimension) Grouping {
	switch d {
	case DimensionPOS:
		return POSPreset()
	case DimensionDep:
		return DepPreset()
	case DimensionUSAS:
		return USASPreset()
	default:
		return nil
	}
}
