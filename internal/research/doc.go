// Package research finds companies related to a seed company or a list of
// capabilities, country by country, using the provider's web research.
package research
