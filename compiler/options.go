// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package compiler

// Options are the compiler flags of a project. They merge the tsconfig
// "compilerOptions" and "angularCompilerOptions" sections and travel to the
// type checker worker as JSON.
type Options struct {
	BasePath string              `json:"basePath,omitempty"`
	BaseURL  string              `json:"baseUrl,omitempty"`
	Paths    map[string][]string `json:"paths,omitempty"`
	OutDir   string              `json:"outDir,omitempty"`
	RootDir  string              `json:"rootDir,omitempty"`
	Target   string              `json:"target,omitempty"`
	Module   string              `json:"module,omitempty"`
	Lib      []string            `json:"lib,omitempty"`
	NewLine  string              `json:"newLine,omitempty"`

	AllowJs                 bool  `json:"allowJs,omitempty"`
	Declaration             bool  `json:"declaration,omitempty"`
	ExperimentalDecorators  bool  `json:"experimentalDecorators,omitempty"`
	EmitDecoratorMetadata   bool  `json:"emitDecoratorMetadata,omitempty"`
	UseDefineForClassFields *bool `json:"useDefineForClassFields,omitempty"`
	NoEmitOnError           bool  `json:"noEmitOnError,omitempty"`
	SkipLibCheck            bool  `json:"skipLibCheck,omitempty"`
	Strict                  bool  `json:"strict,omitempty"`

	SourceMap       bool   `json:"sourceMap,omitempty"`
	InlineSourceMap bool   `json:"inlineSourceMap,omitempty"`
	InlineSources   bool   `json:"inlineSources,omitempty"`
	SourceRoot      string `json:"sourceRoot,omitempty"`
	MapRoot         string `json:"mapRoot,omitempty"`

	// angularCompilerOptions
	EntryModule         string `json:"entryModule,omitempty"`
	GenDir              string `json:"genDir,omitempty"`
	SkipTemplateCodegen bool   `json:"skipTemplateCodegen,omitempty"`
	I18nInFile          string `json:"i18nInFile,omitempty"`
	I18nInFormat        string `json:"i18nInFormat,omitempty"`
	I18nInLocale        string `json:"i18nInLocale,omitempty"`
	I18nOutFile         string `json:"i18nOutFile,omitempty"`
	I18nOutFormat       string `json:"i18nOutFormat,omitempty"`
	MissingTranslation  string `json:"i18nInMissingTranslations,omitempty"`
}

// Clone returns a deep copy of o.
func (o *Options) Clone() *Options {
	c := *o
	if o.Paths != nil {
		c.Paths = make(map[string][]string, len(o.Paths))
		for k, v := range o.Paths {
			c.Paths[k] = append([]string(nil), v...)
		}
	}
	c.Lib = append([]string(nil), o.Lib...)
	if o.UseDefineForClassFields != nil {
		v := *o.UseDefineForClassFields
		c.UseDefineForClassFields = &v
	}
	return &c
}
