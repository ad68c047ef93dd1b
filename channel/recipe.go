package channel

import "github.com/refinio/one-core/recipe"

// RecipeTypeChannelInfo and RecipeTypeChannelRegistry name the recipes
// RegisterRecipes installs.
const (
	RecipeTypeChannelInfo     = "ChannelInfo"
	RecipeTypeChannelRegistry = "ChannelRegistry"
)

// RegisterRecipes registers ChannelInfo, a versioned record with identity
// (id, owner) and a single mutable-looking head field, and ChannelRegistry,
// a singleton versioned record keyed by a fixed appId that holds the set of
// known channel identities. LinkedListEntry and CreationTime are
// deliberately not recipes: like
// package version's own DAG nodes, they are lightweight infra records
// addressed by a hand-rolled encoding rather than the full microdata
// codec (see DESIGN.md).
func RegisterRecipes(reg *recipe.Registry) error {
	if err := reg.Register(recipe.Recipe{
		Name:      RecipeTypeChannelInfo,
		Versioned: true,
		Rules: []recipe.Rule{
			{Name: "id", IsId: true, Type: recipe.ValueString},
			{Name: "owner", IsId: true, Type: recipe.ValueString},
			{Name: "head", Type: recipe.ValueReferenceObject, Optional: true},
		},
	}); err != nil {
		return err
	}
	return reg.Register(recipe.Recipe{
		Name:      RecipeTypeChannelRegistry,
		Versioned: true,
		Rules: []recipe.Rule{
			{Name: "appId", IsId: true, Type: recipe.ValueString},
			{Name: "channels", Type: recipe.ValueSet, Optional: true},
		},
	})
}
