package adapter

import (
	"encoding/xml"
	"fmt"
	"strings"

	m "coevo.dev/pkg/coevo/internal/model"
)

// ReportParser turns raw build-tool report files into structured results.
type ReportParser interface {
	// ParseTestReport parses a JUnit-style XML test report into per-method
	// pass/fail/timeout outcomes.
	ParseTestReport(content []byte) (*m.TestReport, error)

	// ParseCoverageReport parses an XML coverage report into line and branch
	// counters, per method where the report carries them.
	ParseCoverageReport(content []byte) (*m.CoverageReport, error)
}

// XMLReportParser parses surefire/JaCoCo-shaped XML reports.
type XMLReportParser struct{}

// NewXMLReportParser constructs an XMLReportParser.
func NewXMLReportParser() *XMLReportParser {
	return &XMLReportParser{}
}

type junitTestSuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	TestCases []junitTestCase `xml:"testcase"`
}

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestCase struct {
	ClassName string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Failure   *junitVerdict `xml:"failure"`
	Error     *junitVerdict `xml:"error"`
	Skipped   *junitVerdict `xml:"skipped"`
}

type junitVerdict struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// ParseTestReport parses a <testsuite> or <testsuites> document.
func (p *XMLReportParser) ParseTestReport(content []byte) (*m.TestReport, error) {
	var suites []junitTestSuite

	var multi junitTestSuites
	if err := xml.Unmarshal(content, &multi); err == nil {
		suites = multi.Suites
	} else {
		var single junitTestSuite
		if err := xml.Unmarshal(content, &single); err != nil {
			return nil, fmt.Errorf("not a junit report: %w", err)
		}

		suites = []junitTestSuite{single}
	}

	report := &m.TestReport{}

	for _, suite := range suites {
		for _, tc := range suite.TestCases {
			if tc.Skipped != nil {
				continue
			}

			report.Methods = append(report.Methods, m.MethodResult{
				Class:   tc.ClassName,
				Name:    tc.Name,
				Outcome: verdictOutcome(tc),
				Message: verdictMessage(tc),
			})
		}
	}

	return report, nil
}

func verdictOutcome(tc junitTestCase) m.Outcome {
	verdict := tc.Failure
	if verdict == nil {
		verdict = tc.Error
	}

	if verdict == nil {
		return m.OutcomeOK
	}

	// Surefire reports hung tests as errors with a timeout exception type.
	haystack := strings.ToLower(verdict.Type + " " + verdict.Message)
	if strings.Contains(haystack, "timeout") || strings.Contains(haystack, "timed out") {
		return m.OutcomeTimeout
	}

	return m.OutcomeTestsFailed
}

func verdictMessage(tc junitTestCase) string {
	verdict := tc.Failure
	if verdict == nil {
		verdict = tc.Error
	}

	if verdict == nil {
		return ""
	}

	if verdict.Message != "" {
		return verdict.Message
	}

	return strings.TrimSpace(verdict.Body)
}

type coverageXML struct {
	XMLName  xml.Name             `xml:"report"`
	Counters []coverageCounterXML `xml:"counter"`
	Packages []coveragePackageXML `xml:"package"`
}

type coveragePackageXML struct {
	Name    string             `xml:"name,attr"`
	Classes []coverageClassXML `xml:"class"`
}

type coverageClassXML struct {
	Name    string              `xml:"name,attr"`
	Methods []coverageMethodXML `xml:"method"`
}

type coverageMethodXML struct {
	Name     string               `xml:"name,attr"`
	Counters []coverageCounterXML `xml:"counter"`
}

type coverageCounterXML struct {
	Type    string `xml:"type,attr"`
	Missed  int    `xml:"missed,attr"`
	Covered int    `xml:"covered,attr"`
}

// ParseCoverageReport parses a JaCoCo-shaped <report> document.
func (p *XMLReportParser) ParseCoverageReport(content []byte) (*m.CoverageReport, error) {
	var doc coverageXML
	if err := xml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("not a coverage report: %w", err)
	}

	report := &m.CoverageReport{}
	report.Line, report.Branch = pickCounters(doc.Counters)

	for _, pkg := range doc.Packages {
		for _, class := range pkg.Classes {
			className := strings.ReplaceAll(class.Name, "/", ".")

			for _, method := range class.Methods {
				line, branch := pickCounters(method.Counters)
				report.Methods = append(report.Methods, m.MethodCoverage{
					Class:  className,
					Method: method.Name,
					Line:   line,
					Branch: branch,
				})
			}
		}
	}

	return report, nil
}

func pickCounters(counters []coverageCounterXML) (line, branch m.Counter) {
	for _, counter := range counters {
		switch counter.Type {
		case "LINE":
			line = m.Counter{Covered: counter.Covered, Missed: counter.Missed}
		case "BRANCH":
			branch = m.Counter{Covered: counter.Covered, Missed: counter.Missed}
		}
	}

	return line, branch
}
