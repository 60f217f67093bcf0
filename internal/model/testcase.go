package model

import "sort"

// TestMethod is one generated test method. Methods are uniquely keyed by
// (test-case id, method name); the version increments only when the code
// body changes.
type TestMethod struct {
	CaseID  string `yaml:"case_id"`
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`
	Code    string `yaml:"code"`
}

// Key returns the unique (case-id, method-name) key for the method.
func (tm TestMethod) Key() string {
	return tm.CaseID + "#" + tm.Name
}

// TestCase is a generated test class owning an ordered collection of test
// methods targeting a single class.
type TestCase struct {
	ID       string       `yaml:"id"`
	Class    string       `yaml:"class"`
	Name     string       `yaml:"name"`
	File     Path         `yaml:"file"`
	Preamble string       `yaml:"preamble,omitempty"`
	Methods  []TestMethod `yaml:"methods"`
}

// Upsert adds the method body under the given name, bumping the version only
// when the body actually changed. Method order is preserved; new methods are
// appended.
func (tc *TestCase) Upsert(name, code string) TestMethod {
	for i := range tc.Methods {
		if tc.Methods[i].Name != name {
			continue
		}

		if tc.Methods[i].Code == code {
			return tc.Methods[i]
		}

		tc.Methods[i].Code = code
		tc.Methods[i].Version++

		return tc.Methods[i]
	}

	method := TestMethod{CaseID: tc.ID, Name: name, Version: 1, Code: code}
	tc.Methods = append(tc.Methods, method)

	return method
}

// Method returns the method with the given name, if present.
func (tc *TestCase) Method(name string) (TestMethod, bool) {
	for _, method := range tc.Methods {
		if method.Name == name {
			return method, true
		}
	}

	return TestMethod{}, false
}

// Remove deletes the method with the given name, preserving order of the
// remaining methods.
func (tc *TestCase) Remove(name string) bool {
	for i := range tc.Methods {
		if tc.Methods[i].Name == name {
			tc.Methods = append(tc.Methods[:i], tc.Methods[i+1:]...)
			return true
		}
	}

	return false
}

// CurrentView merges all test cases targeting the same class into the latest
// version of each method. When two cases carry a method with the same
// (case-id, name) key, the higher version wins.
func CurrentView(cases []TestCase) []TestMethod {
	latest := make(map[string]TestMethod)

	for _, tc := range cases {
		for _, method := range tc.Methods {
			key := method.Key()
			if existing, ok := latest[key]; !ok || method.Version > existing.Version {
				latest[key] = method
			}
		}
	}

	merged := make([]TestMethod, 0, len(latest))
	for _, method := range latest {
		merged = append(merged, method)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Key() < merged[j].Key()
	})

	return merged
}
