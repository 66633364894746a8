// Package confloader loads daemon and object configuration with koanf
// and watches configuration directories with fsnotify.
//
// Priority (highest to lowest):
//
//  1. Values loaded with LoadMap (command-line flags)
//  2. Environment variables (HAMESH_ prefix)
//  3. Configuration file (YAML)
//  4. Defaults already present in the target struct
package confloader
