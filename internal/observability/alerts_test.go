package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Groups []struct {
		Name  string `yaml:"name"`
		Rules []struct {
			Alert       string            `yaml:"alert"`
			Expr        string            `yaml:"expr"`
			For         string            `yaml:"for"`
			Labels      map[string]string `yaml:"labels"`
			Annotations map[string]string `yaml:"annotations"`
		} `yaml:"rules"`
	} `yaml:"groups"`
}

func TestComposerAlertRules(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "composer.yml"))
	require.NoError(t, err)

	var rules ruleFile
	require.NoError(t, yaml.Unmarshal(raw, &rules))
	require.Len(t, rules.Groups, 1)
	group := rules.Groups[0]
	require.Equal(t, "composer", group.Name)

	want := map[string][2]string{
		"HighErrorRate":          {"critical", "high-error-rate"},
		"HighLatency":            {"warning", "high-latency"},
		"DiscountLookupFailures": {"warning", "discount-lookup-failures"},
		"PricingCacheBumpFailed": {"warning", "pricing-cache-bump"},
	}
	require.Len(t, group.Rules, len(want))

	for _, rule := range group.Rules {
		t.Run(rule.Alert, func(t *testing.T) {
			expected, ok := want[rule.Alert]
			require.True(t, ok, "unexpected alert")
			assert.Equal(t, expected[0], rule.Labels["severity"])
			assert.Equal(t, "docs/runbook-composer.md#"+expected[1], rule.Annotations["runbook"])
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])
			assert.NotEmpty(t, rule.Expr)
			assert.NotEmpty(t, rule.For)
		})
	}
}

func TestRunbookAnchorsExist(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-composer.md"))
	require.NoError(t, err)
	doc := string(raw)
	for _, heading := range []string{"High error rate", "High latency", "Discount lookup failures", "Pricing cache bump"} {
		assert.Contains(t, doc, "## "+heading)
	}
}
