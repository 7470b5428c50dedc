// Package llm defines the provider-neutral boundary the decision oracle uses
// to reach a large language model. Concrete providers live in sub-packages.
package llm
