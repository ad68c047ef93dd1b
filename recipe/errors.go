package recipe

import "github.com/refinio/one-core/errutil"

func errIdentityNotTopLevel(field string) error {
	return errutil.New(errutil.CodeRecipeInvalid, map[string]any{
		"reason": "identity rule not at top level", "field": field,
	})
}

func errMinGreaterThanMax(field string) error {
	return errutil.New(errutil.CodeRecipeInvalid, map[string]any{
		"reason": "min greater than max", "field": field,
	})
}

func errBadRegex(field string, cause error) error {
	return errutil.Wrap(errutil.CodeRecipeInvalid, cause, map[string]any{
		"reason": "invalid regex", "field": field,
	})
}

func errUnknownReferredType(field, typeName string) error {
	return errutil.New(errutil.CodeRecipeInvalid, map[string]any{
		"reason": "referred type not registered", "field": field, "type": typeName,
	})
}

func errDuplicateRecipe(name string) error {
	return errutil.New(errutil.CodeDuplicateRecipe, map[string]any{"name": name})
}

func errNestedCycle(name string) error {
	return errutil.New(errutil.CodeNestedCycle, map[string]any{"recipe": name})
}

func errInheritanceCycle(name string) error {
	return errutil.New(errutil.CodeInheritanceCycle, map[string]any{"recipe": name})
}

func errRuleNotFound(recipeName, path string) error {
	return errutil.New(errutil.CodeRuleNotFound, map[string]any{"recipe": recipeName, "path": path})
}
