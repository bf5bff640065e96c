package codereview

// SampleCodeGood is short, documented code with no issues.
const SampleCodeGood = `
def calculate_sum(a: int, b: int) -> int:
    """Calculate sum of two numbers."""
    return a + b

def greet(name: str) -> str:
    """Greet a person by name."""
    return f"Hello, {name}!"
`

// SampleCodeBad has deeply nested, undocumented functions with too many
// parameters.
const SampleCodeBad = `
def complex_function(a, b, c, d, e, f):
    result = 0
    if a > 0:
        if b > 0:
            if c > 0:
                if d > 0:
                    if e > 0:
                        result = a + b + c + d + e + f
                    else:
                        result = a + b + c + d
                else:
                    result = a + b + c
            else:
                result = a + b
        else:
            result = a
    for i in range(100):
        for j in range(100):
            for k in range(100):
                result += i * j * k
    return result

def another_long_function_without_docstring(param1, param2, param3, param4, param5, param6, param7):
    line1 = param1 + param2
    line2 = param3 + param4
    line3 = param5 + param6
    line4 = param7 + line1
    line5 = line2 + line3
    line6 = line4 + line5
    line7 = line1 * line2
    line8 = line3 * line4
    line9 = line5 * line6
    line10 = line7 + line8
    line11 = line9 + line10
    line12 = line11 * 2
    line13 = line12 + line1
    line14 = line13 + line2
    line15 = line14 + line3
    return line15
`
