package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/loader"
)

func init() {
	register(Case{
		ID:          "descriptor-consistency",
		Kind:        KindPlugin,
		Category:    CategoryFactory,
		Description: "Verifies that the descriptor returned by the factory matches the descriptor stored on the created plugin instance.",
		Run:         runDescriptorConsistency,
	})
	register(Case{
		ID:          "features-main-category",
		Kind:        KindPlugin,
		Category:    CategoryFactory,
		Description: "Checks that the plugin declares at least one of the main plugin category features.",
		Run:         runFeaturesMainCategory,
	})
	register(Case{
		ID:          "features-duplicates",
		Kind:        KindPlugin,
		Category:    CategoryFactory,
		Description: "Confirms that the plugin does not declare any duplicate features.",
		Run:         runFeaturesDuplicates,
	})
}

func runDescriptorConsistency(env *Env, path, pluginID string) Verdict {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return Fail(err)
	}
	defer lib.Close()

	meta, err := lib.Metadata()
	if err != nil {
		return Fail(err)
	}
	factoryDesc, ok := meta.Descriptor(pluginID)
	if !ok {
		return Failf("The factory does not expose a plugin with the ID '%s'.", pluginID)
	}

	s, err := newSession(env, path, pluginID)
	if err != nil {
		return Fail(err)
	}
	defer s.close()

	// The descriptor must be readable before init.
	instDesc, err := s.inst.Descriptor()
	if err != nil {
		return Failf("could not read the instance descriptor: %v", err)
	}
	if !instDesc.Equal(factoryDesc) {
		return Failf("The descriptor stored on '%s's plugin instance contains different values than the one returned by the factory.", pluginID)
	}
	return Pass()
}

func runFeaturesMainCategory(env *Env, path, pluginID string) Verdict {
	features, verdict, ok := pluginFeatures(env, path, pluginID)
	if !ok {
		return verdict
	}

	for _, feature := range features {
		for _, main := range clap.MainCategoryFeatures {
			if feature == main {
				return Pass()
			}
		}
	}

	quoted := make([]string, len(clap.MainCategoryFeatures))
	for i, f := range clap.MainCategoryFeatures {
		quoted[i] = fmt.Sprintf("%q", f)
	}
	return Failf("The plugin needs to have at least one of the following plugin category features: %s.", strings.Join(quoted, ", "))
}

func runFeaturesDuplicates(env *Env, path, pluginID string) Verdict {
	features, verdict, ok := pluginFeatures(env, path, pluginID)
	if !ok {
		return verdict
	}

	seen := make(map[string]bool, len(features))
	duplicate := false
	for _, f := range features {
		if seen[f] {
			duplicate = true
		}
		seen[f] = true
	}
	if duplicate {
		// Sorting makes the duplicates easy to spot in the output.
		sorted := append([]string(nil), features...)
		sort.Strings(sorted)
		return Failf("The plugin has duplicate features: %s.", strings.Join(sorted, ", "))
	}
	return Pass()
}

// pluginFeatures reads the feature list from the factory descriptor. The
// verdict carries the failure when ok is false.
func pluginFeatures(env *Env, path, pluginID string) ([]string, Verdict, bool) {
	lib, err := loader.OpenWith(env.Open, path)
	if err != nil {
		return nil, Fail(err), false
	}
	defer lib.Close()

	meta, err := lib.Metadata()
	if err != nil {
		return nil, Fail(err), false
	}
	desc, ok := meta.Descriptor(pluginID)
	if !ok {
		return nil, Failf("The factory does not expose a plugin with the ID '%s'.", pluginID), false
	}
	return desc.Features, Verdict{}, true
}
