// Package invoke executes a provider request against an ordered list of
// candidate models, retrying without reasoning controls when a model rejects
// them and moving on when a model is unavailable. The first model that
// answers becomes the sticky active model for later calls.
package invoke
