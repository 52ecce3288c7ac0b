// Package cpe provides the entry point of the CPE client SDK.
//
// The plugin registers itself under the "cpe" name and follows the usual
// plugin lifecycle (Init, Name). It reads credentials and queue
// settings from the "cpe" configuration section on top of the process
// environment and builds [cpejobs.SDK] instances via SDK.
//
// When running inside AWS (detected through the instance metadata service)
// the ambient credentials are accepted in place of a configured key.
package cpe
