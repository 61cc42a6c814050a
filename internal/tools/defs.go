package tools

import (
	"runtime"
	"sort"
)

// Definition describes how to find one tool kind.
type Definition struct {
	Kind Kind
	// Name is the folder used under <devRoot>/tools and in messages.
	Name        string
	Executable  string
	VersionArgs []string
	Locators    []Locator
}

const vswhere = "${ProgramFiles(x86)}/Microsoft Visual Studio/Installer/vswhere.exe"

var vsEditions = []string{"BuildTools", "Community", "Professional", "Enterprise"}

// DefaultDefinitions returns the built-in definitions for the running platform.
func DefaultDefinitions() map[Kind]Definition {
	return definitionsFor(runtime.GOOS)
}

func definitionsFor(goos string) map[Kind]Definition {
	exe := func(base string) string {
		if goos == "windows" {
			return base + ".exe"
		}
		return base
	}

	defs := map[Kind]Definition{
		KindGit: {
			Kind: KindGit, Name: "Git", Executable: exe("git"), VersionArgs: []string{"--version"},
			Locators: []Locator{
				PathLocator{Executables: []string{exe("git")}},
				EnvLocator{Var: "CPPDEV_GIT_ROOT", Suffixes: []string{"cmd/" + exe("git"), "bin/" + exe("git")}},
				ConventionLocator{Variants: []string{"Git/cmd/" + exe("git"), "Git/bin/" + exe("git"), "git/bin/" + exe("git")}},
			},
		},
		KindCMake: {
			Kind: KindCMake, Name: "CMake", Executable: exe("cmake"), VersionArgs: []string{"--version"},
			Locators: []Locator{
				PathLocator{Executables: []string{exe("cmake")}},
				EnvLocator{Var: "CPPDEV_CMAKE_ROOT", Suffixes: []string{"bin/" + exe("cmake")}},
				ConventionLocator{Variants: []string{"CMake/bin/" + exe("cmake"), "cmake/bin/" + exe("cmake")}},
			},
		},
		KindDownloader: {
			Kind: KindDownloader, Name: "curl", Executable: exe("curl"), VersionArgs: []string{"--version"},
			Locators: []Locator{
				PathLocator{Executables: []string{exe("curl")}},
				EnvLocator{Var: "CPPDEV_CURL_ROOT", Suffixes: []string{"bin/" + exe("curl"), exe("curl")}},
				ConventionLocator{Variants: []string{"curl/bin/" + exe("curl"), "Curl/bin/" + exe("curl")}},
			},
		},
		KindVcpkg: {
			Kind: KindVcpkg, Name: "vcpkg", Executable: exe("vcpkg"), VersionArgs: []string{"version"},
			Locators: []Locator{
				PathLocator{Executables: []string{exe("vcpkg")}},
				EnvLocator{Var: "VCPKG_ROOT", Suffixes: []string{exe("vcpkg")}},
				ConventionLocator{Variants: []string{"vcpkg/" + exe("vcpkg"), "Vcpkg/" + exe("vcpkg")}},
			},
		},
		KindNinja: {
			Kind: KindNinja, Name: "Ninja", Executable: exe("ninja"), VersionArgs: []string{"--version"},
			Locators: []Locator{
				PathLocator{Executables: []string{exe("ninja")}},
				EnvLocator{Var: "CPPDEV_NINJA_ROOT", Suffixes: []string{exe("ninja"), "bin/" + exe("ninja")}},
				ConventionLocator{Variants: []string{"Ninja/" + exe("ninja"), "ninja/" + exe("ninja")}},
			},
		},
	}

	if goos == "windows" {
		const clRel = "VC/Tools/MSVC/{version}/bin/Hostx64/x64/cl.exe"
		var vsRoots []string
		for _, base := range []string{"${ProgramFiles(x86)}", "${ProgramFiles}"} {
			for _, year := range []string{"2022", "2019"} {
				for _, edition := range vsEditions {
					vsRoots = append(vsRoots, base+"/Microsoft Visual Studio/"+year+"/"+edition)
				}
			}
		}
		defs[KindCompiler] = Definition{
			Kind: KindCompiler, Name: "MSVC", Executable: "cl.exe",
			Locators: []Locator{
				PathLocator{Executables: []string{"cl.exe"}},
				EnvLocator{Var: "VCToolsInstallDir", Suffixes: []string{"bin/Hostx64/x64/cl.exe"}},
				EnvLocator{Var: "CPPDEV_COMPILER_ROOT", Suffixes: []string{clRel, "bin/Hostx64/x64/cl.exe"}},
				ConventionLocator{Variants: []string{"BuildTools/" + clRel, "MSVC/{version}/bin/Hostx64/x64/cl.exe"}},
				CommonLocator{Roots: vsRoots, Variants: []string{clRel}},
				QueryLocator{
					Tool: vswhere,
					Args: []string{"-latest", "-products", "*", "-requires",
						"Microsoft.VisualStudio.Component.VC.Tools.x86.x64", "-property", "installationPath"},
					Suffixes: []string{clRel},
				},
			},
		}

		git := defs[KindGit]
		git.Locators = append(git.Locators, CommonLocator{
			Roots:    []string{"${ProgramFiles}/Git", "${ProgramFiles(x86)}/Git", "${LOCALAPPDATA}/Programs/Git"},
			Variants: []string{"cmd/git.exe", "bin/git.exe"},
		})
		defs[KindGit] = git

		cmake := defs[KindCMake]
		cmake.Locators = append(cmake.Locators,
			CommonLocator{Roots: []string{"${ProgramFiles}/CMake", "${ProgramFiles(x86)}/CMake"}, Variants: []string{"bin/cmake.exe"}},
			QueryLocator{
				Tool: vswhere,
				Args: []string{"-latest", "-products", "*", "-find", "**/CMake/bin/cmake.exe"},
			},
		)
		defs[KindCMake] = cmake

		curl := defs[KindDownloader]
		curl.Locators = append(curl.Locators, CommonLocator{
			Roots: []string{"${SystemRoot}/System32"}, Variants: []string{"curl.exe"},
		})
		defs[KindDownloader] = curl
	} else {
		defs[KindCompiler] = Definition{
			Kind: KindCompiler, Name: "compiler", Executable: "c++", VersionArgs: []string{"--version"},
			Locators: []Locator{
				PathLocator{Executables: []string{"c++", "clang++", "g++"}},
				EnvLocator{Var: "CPPDEV_COMPILER_ROOT", Suffixes: []string{"bin/clang++", "bin/g++", "bin/c++"}},
				ConventionLocator{Variants: []string{"llvm/bin/clang++", "gcc/bin/g++"}},
				CommonLocator{
					Roots:    []string{"/usr/local", "/usr", "/opt/homebrew/opt/llvm", "/usr/local/opt/llvm"},
					Variants: []string{"bin/clang++", "bin/g++", "bin/c++"},
				},
			},
		}
		for _, kind := range []Kind{KindGit, KindCMake, KindDownloader, KindNinja} {
			def := defs[kind]
			base := def.Executable
			def.Locators = append(def.Locators, CommonLocator{
				Roots:    []string{"/usr/local", "/usr", "/opt/homebrew", "/opt/" + base},
				Variants: []string{"bin/" + base},
			})
			defs[kind] = def
		}
	}

	return defs
}

// Kinds returns the sorted kinds in defs.
func Kinds(defs map[Kind]Definition) []Kind {
	kinds := make([]Kind, 0, len(defs))
	for kind := range defs {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ParseKind validates a user-supplied tool key.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(value)
	switch kind {
	case KindGit, KindCMake, KindCompiler, KindDownloader, KindVcpkg, KindNinja:
		return kind, true
	}
	return "", false
}
