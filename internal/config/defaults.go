package config

import "runtime"

const (
	cmakeVersion = "3.30.5"
	ninjaVersion = "1.12.1"
)

// defaultTools returns the built-in provisioning recipes for the running platform.
func defaultTools() map[string]ToolConfig {
	tools := map[string]ToolConfig{}

	switch runtime.GOOS {
	case "windows":
		tools["cmake"] = ToolConfig{
			DownloadURL: "https://github.com/Kitware/CMake/releases/download/v" + cmakeVersion + "/cmake-" + cmakeVersion + "-windows-x86_64.zip",
			Dest:        "CMake",
			Sentinel:    "bin/cmake.exe",
		}
		tools["ninja"] = ToolConfig{
			DownloadURL: "https://github.com/ninja-build/ninja/releases/download/v" + ninjaVersion + "/ninja-win.zip",
			Dest:        "Ninja",
			Sentinel:    "ninja.exe",
		}
		tools["git"] = ToolConfig{
			DownloadURL: "https://github.com/git-for-windows/git/releases/download/v2.47.0.windows.1/Git-2.47.0-64-bit.exe",
			Dest:        "Git",
			InstallArgs: [][]string{
				{"/VERYSILENT", "/NORESTART", "/SUPPRESSMSGBOXES", "/DIR={dest}"},
				{"/SILENT", "/NORESTART", "/DIR={dest}"},
			},
			Sentinel: "cmd/git.exe",
			FallbackRoots: []string{
				`C:\Program Files\Git`,
			},
		}
		tools["compiler"] = ToolConfig{
			DownloadURL: "https://aka.ms/vs/17/release/vs_BuildTools.exe",
			Dest:        "BuildTools",
			InstallArgs: [][]string{
				{"--quiet", "--wait", "--norestart", "--nocache", "--installPath", "{dest}",
					"--add", "Microsoft.VisualStudio.Workload.VCTools", "--includeRecommended"},
				{"--passive", "--wait", "--norestart", "--installPath", "{dest}",
					"--add", "Microsoft.VisualStudio.Workload.VCTools", "--includeRecommended"},
			},
			Sentinel: "VC/Tools/MSVC/{version}/bin/Hostx64/x64/cl.exe",
			FallbackRoots: []string{
				`C:\Program Files (x86)\Microsoft Visual Studio\2022\BuildTools`,
				`C:\Program Files\Microsoft Visual Studio\2022\BuildTools`,
			},
		}
	case "darwin":
		tools["cmake"] = ToolConfig{
			DownloadURL: "https://github.com/Kitware/CMake/releases/download/v" + cmakeVersion + "/cmake-" + cmakeVersion + "-macos-universal.tar.gz",
			Dest:        "CMake",
			Sentinel:    "CMake.app/Contents/bin/cmake",
		}
		tools["ninja"] = ToolConfig{
			DownloadURL: "https://github.com/ninja-build/ninja/releases/download/v" + ninjaVersion + "/ninja-mac.zip",
			Dest:        "Ninja",
			Sentinel:    "ninja",
		}
	default:
		tools["cmake"] = ToolConfig{
			DownloadURL: "https://github.com/Kitware/CMake/releases/download/v" + cmakeVersion + "/cmake-" + cmakeVersion + "-linux-x86_64.tar.gz",
			Dest:        "CMake",
			Sentinel:    "bin/cmake",
		}
		tools["ninja"] = ToolConfig{
			DownloadURL: "https://github.com/ninja-build/ninja/releases/download/v" + ninjaVersion + "/ninja-linux.zip",
			Dest:        "Ninja",
			Sentinel:    "ninja",
		}
	}

	return tools
}
